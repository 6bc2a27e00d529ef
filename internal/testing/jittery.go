// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of the jittery connections.
type JitterConfig struct {
	MaxLatencyMs      int
	FragmentMinBytes  int
	StallAfterBytes   int
	StallDuration     time.Duration
	Seed              uint64
	FragmentReads     bool
	USBBoundaryStress bool
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     5,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	return rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
}

// jitter holds the latency, stall and fragmentation state shared by both
// connection types.
type jitter struct {
	rng                 *rand.Rand
	config              JitterConfig
	bytesReadSinceStall int
	stallTriggered      bool
}

func newJitter(config JitterConfig) jitter {
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return jitter{config: config, rng: newRand(config.Seed)}
}

func (j *jitter) delay() {
	if j.config.MaxLatencyMs > 0 {
		if d := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond; d > 0 {
			time.Sleep(d)
		}
	}
}

// limit picks how many of n available bytes the next read returns.
func (j *jitter) limit(n int) int {
	if j.config.StallAfterBytes > 0 && !j.stallTriggered {
		if j.bytesReadSinceStall >= j.config.StallAfterBytes {
			j.stallTriggered = true
			if j.config.StallDuration > 0 {
				time.Sleep(j.config.StallDuration)
			}
		} else {
			n = min(n, j.config.StallAfterBytes-j.bytesReadSinceStall)
		}
	}

	// Full-speed USB bridges deliver at most 64 bytes per transfer.
	if j.config.USBBoundaryStress && n > 0 {
		untilBoundary := 64 - j.bytesReadSinceStall%64
		n = min(n, untilBoundary)
	}

	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	j.bytesReadSinceStall += n
	return n
}

func (j *jitter) reset() {
	j.bytesReadSinceStall = 0
	j.stallTriggered = false
}

// BufferedJitteryConnection wraps an io.ReadWriter to simulate a USB-UART
// bridge (FTDI, CH340) feeding a radio module: reads arrive late and split
// at arbitrary byte boundaries, but no byte is lost. Frames therefore reach
// the host in pieces, exercising reassembly across reads.
type BufferedJitteryConnection struct {
	backend io.ReadWriter
	readBuf []byte
	jitter
}

// NewBufferedJitteryConnection wraps backend with jitter simulation.
func NewBufferedJitteryConnection(backend io.ReadWriter, config JitterConfig) *BufferedJitteryConnection {
	return &BufferedJitteryConnection{
		backend: backend,
		jitter:  newJitter(config),
		readBuf: make([]byte, 0, 1024),
	}
}

// Write passes writes through to the backend without modification.
func (j *BufferedJitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns a random-length prefix of the buffered backend data.
func (j *BufferedJitteryConnection) Read(buf []byte) (int, error) {
	j.delay()

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 1024)
		n, err := j.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		if n == 0 {
			return 0, nil
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	n := j.limit(min(len(j.readBuf), len(buf)))
	copy(buf, j.readBuf[:n])
	j.readBuf = j.readBuf[n:]
	return n, nil
}

// ResetStallState resets the stall tracking state.
func (j *BufferedJitteryConnection) ResetStallState() {
	j.reset()
}

// ClearBuffer drops any buffered read data, like a host that lost the
// stream while asleep.
func (j *BufferedJitteryConnection) ClearBuffer() {
	j.readBuf = j.readBuf[:0]
}

// Buffered returns how many bytes are held back from the host.
func (j *BufferedJitteryConnection) Buffered() int {
	return len(j.readBuf)
}

// LossyConnection fragments reads like BufferedJitteryConnection but drops
// whatever a read does not return, as a UART overrun does. Frames arrive
// truncated, exercising corruption handling.
type LossyConnection struct {
	backend io.ReadWriter
	jitter
	Dropped int
}

// NewLossyConnection wraps backend with lossy jitter simulation.
func NewLossyConnection(backend io.ReadWriter, config JitterConfig) *LossyConnection {
	return &LossyConnection{backend: backend, jitter: newJitter(config)}
}

// Write passes writes through to the backend without modification.
func (j *LossyConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read reads from the backend and returns a random-length prefix of it.
func (j *LossyConnection) Read(buf []byte) (int, error) {
	j.delay()

	n, err := j.backend.Read(buf)
	if err != nil || n == 0 {
		return n, err //nolint:wrapcheck // Pass-through wrapper
	}

	kept := j.limit(n)
	j.Dropped += n - kept
	return kept, nil
}

// ResetStallState resets the stall tracking state.
func (j *LossyConnection) ResetStallState() {
	j.reset()
}
