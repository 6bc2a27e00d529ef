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
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

// TransportType mirrors digimesh.TransportType to avoid import cycle
type TransportType string

const (
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// ErrSimulatorClosed is returned after Close.
var ErrSimulatorClosed = errors.New("simulator transport closed")

// SimulatorTransport drives a VirtualModule (or any io.ReadWriter wrapping
// one, such as a BufferedJitteryConnection) through the Write/ReadAvailable
// transport boundary. It matches digimesh.Transport except for Type, which
// callers adapt to avoid the import cycle.
type SimulatorTransport struct {
	backend  io.ReadWriter
	WriteLog []WriteLogEntry
	mu       syncutil.Mutex
	closed   bool
}

// WriteLogEntry records one Write for test verification
type WriteLogEntry struct {
	Timestamp time.Time
	Data      []byte
}

// NewSimulatorTransport creates a transport on backend
func NewSimulatorTransport(backend io.ReadWriter) *SimulatorTransport {
	return &SimulatorTransport{backend: backend}
}

// Write sends one frame to the backend.
func (t *SimulatorTransport) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrSimulatorClosed
	}
	t.WriteLog = append(t.WriteLog, WriteLogEntry{Data: slices.Clone(data), Timestamp: time.Now()})
	if _, err := t.backend.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// ReadAvailable returns whatever the backend yields from a single read.
func (t *SimulatorTransport) ReadAvailable(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrSimulatorClosed
	}
	buf := make([]byte, 256)
	n, err := t.backend.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// Close closes the transport
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// IsConnected returns whether the transport is connected
func (t *SimulatorTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns the transport type
func (*SimulatorTransport) Type() TransportType {
	return TransportMock
}

// WriteCount returns how many frames were written
func (t *SimulatorTransport) WriteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.WriteLog)
}

// ClearWriteLog clears the write log
func (t *SimulatorTransport) ClearWriteLog() {
	t.mu.Lock()
	t.WriteLog = nil
	t.mu.Unlock()
}

// Drain polls read until it yields nothing, up to maxReads times, and
// returns everything read. Useful with jittery backends that fragment reads.
func (t *SimulatorTransport) Drain(ctx context.Context, maxReads int) ([]byte, error) {
	var out []byte
	for range maxReads {
		chunk, err := t.ReadAvailable(ctx)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
	return out, nil
}
