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

// Package uart connects a DigiMesh module over a serial port.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial"

	digimesh "github.com/ZaparooProject/go-digimesh"
	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

const (
	// DefaultBaudRate is the factory setting of DigiMesh modules.
	DefaultBaudRate = 9600

	readChunkSize = 256
	// maxDrainBytes bounds one ReadAvailable so a chattering module cannot
	// starve the caller.
	maxDrainBytes = 4096
)

// Transport implements the digimesh.Transport interface for UART communication.
type Transport struct {
	port     serial.Port
	portName string
	mu       syncutil.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readTimeout is how long one read waits for the first byte. Windows
// drivers return early reads unreliably below 20ms.
func readTimeout() time.Duration {
	if isWindows() {
		return 20 * time.Millisecond
	}
	return 10 * time.Millisecond
}

// New opens portName at baud (DefaultBaudRate when zero), 8N1.
func New(portName string, baud int) (*Transport, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		digimesh.Debugf("UART %s: input reset failed: %v", portName, err)
	}

	return &Transport{
		port:     port,
		portName: portName,
	}, nil
}

// Write sends one complete frame.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return digimesh.NewTransportClosedError("write", t.portName)
	}

	for written := 0; written < len(data); {
		n, err := t.port.Write(data[written:])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return digimesh.NewTransportError("write", t.portName,
				fmt.Errorf("UART write failed: %w", err), classify(err))
		}
		if n == 0 {
			return digimesh.NewTransportWriteError("write", t.portName)
		}
		written += n
	}

	return t.drainWithRetry("write")
}

// ReadAvailable returns the bytes the module has sent since the last call,
// or nil when the read timeout passes with nothing received.
func (t *Transport) ReadAvailable(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, digimesh.NewTransportClosedError("read", t.portName)
	}

	var out []byte
	buf := make([]byte, readChunkSize)
	for len(out) < maxDrainBytes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, err := t.port.Read(buf)
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return out, digimesh.NewTransportError("read", t.portName,
				fmt.Errorf("UART read failed: %w", err), classify(err))
		}
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return digimesh.NewTransportClosedError("set timeout", t.portName)
	}
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	return nil
}

// ResetInput discards bytes received but not yet read, for example after
// the host wakes from sleep.
func (t *Transport) ResetInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return digimesh.NewTransportClosedError("reset input", t.portName)
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("UART input reset failed: %w", err)
	}
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() digimesh.TransportType {
	return digimesh.TransportUART
}

// PortName returns the device the transport was opened on
func (t *Transport) PortName() string {
	return t.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// classify maps a serial port error to a transport error type.
func classify(err error) digimesh.ErrorType {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound:
			return digimesh.ErrorTypePermanent
		default:
		}
	}
	if digimesh.IsFatal(err) {
		return digimesh.ErrorTypePermanent
	}
	return digimesh.ErrorTypeTransient
}

// drainWithRetry waits for the output to be sent, retrying interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay << attempt) // 2ms, 4ms
			continue
		}

		return digimesh.NewTransportError(operation, t.portName,
			fmt.Errorf("UART drain failed: %w", err), classify(err))
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

var (
	_ digimesh.Transport     = (*Transport)(nil)
	_ digimesh.InputResetter = (*Transport)(nil)
)
