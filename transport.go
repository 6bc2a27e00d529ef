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

package digimesh

import (
	"context"
	"fmt"
	"sync"
)

// Transport is the byte pipe to a DigiMesh module. The session only ever
// writes complete encoded frames and drains whatever bytes have arrived;
// all framing happens above this interface.
type Transport interface {
	// Write sends bytes to the module. A short write is an error.
	Write(ctx context.Context, data []byte) error

	// ReadAvailable returns the bytes received since the last call, which
	// may be none. It must not block waiting for a full frame.
	ReadAvailable(ctx context.Context) ([]byte, error)

	// Close closes the transport connection
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// InputResetter is implemented by transports that can discard bytes
// received but not yet read.
type InputResetter interface {
	ResetInput() error
}

// TransportWithRetry retries transient write failures. Reads are passed
// through untouched since a failed drain loses nothing that a later
// drain will not return.
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// Write sends data, retrying errors that IsRetryable accepts
func (t *TransportWithRetry) Write(ctx context.Context, data []byte) error {
	return RetryWithConfig(ctx, t.config, func() error {
		if err := t.transport.Write(ctx, data); err != nil {
			return &TransportError{
				Op:        "write",
				Err:       err,
				Type:      errorTypeOf(err),
				Retryable: IsRetryable(err),
			}
		}
		return nil
	})
}

// ReadAvailable forwards to the underlying transport
func (t *TransportWithRetry) ReadAvailable(ctx context.Context) ([]byte, error) {
	data, err := t.transport.ReadAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read available: %w", err)
	}
	return data, nil
}

// Close closes the transport connection
func (t *TransportWithRetry) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the transport type
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// ResetInput forwards to the underlying transport when it is an
// InputResetter.
func (t *TransportWithRetry) ResetInput() error {
	if r, ok := t.transport.(InputResetter); ok {
		return r.ResetInput()
	}
	return nil
}

// errorTypeOf classifies an error for wrapping in a TransportError.
func errorTypeOf(err error) ErrorType {
	switch {
	case IsFatal(err):
		return ErrorTypePermanent
	case isTimeout(err):
		return ErrorTypeTimeout
	default:
		return ErrorTypeTransient
	}
}

// MockTransport is an in-memory Transport for tests. Writes are recorded
// and reads are served from queued chunks, one chunk per ReadAvailable.
type MockTransport struct {
	writeErr  error
	readErr   error
	writes    [][]byte
	reads     [][]byte
	mu        sync.Mutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{connected: true}
}

// Write implements Transport
func (m *MockTransport) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return NewTransportClosedError("write", "mock")
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), data...))
	return nil
}

// ReadAvailable implements Transport
func (m *MockTransport) ReadAvailable(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, NewTransportClosedError("read", "mock")
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.reads) == 0 {
		return nil, nil
	}
	chunk := m.reads[0]
	m.reads = m.reads[1:]
	return chunk, nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// QueueRead adds chunks to be returned by subsequent ReadAvailable calls.
func (m *MockTransport) QueueRead(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.reads = append(m.reads, append([]byte(nil), c...))
	}
}

// SetWriteError makes every Write fail with err (nil clears it).
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// SetReadError makes every ReadAvailable fail with err (nil clears it).
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Writes returns a copy of everything written so far, one entry per Write.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	for i, w := range m.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// WriteCount returns how many Writes succeeded.
func (m *MockTransport) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

// ClearWrites forgets recorded writes.
func (m *MockTransport) ClearWrites() {
	m.mu.Lock()
	m.writes = nil
	m.mu.Unlock()
}
