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
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

// Error categories for better error handling
var (
	// Transport errors - fatal to the session when they reach the caller
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")

	// Frame errors - counted by the reassembler, never returned to callers
	ErrFrameTooShort    = frame.ErrTooShort
	ErrLengthMismatch   = frame.ErrLengthMismatch
	ErrChecksumMismatch = frame.ErrChecksumMismatch
	ErrMissingDelimiter = frame.ErrMissingDelimiter
	ErrFrameTooLarge    = frame.ErrFrameTooLarge
	ErrEmptyFrame       = errors.New("frame carries no frame type")
	ErrUnknownFrameType = errors.New("unhandled frame type")
	ErrShortPayload     = errors.New("payload shorter than frame layout")
	ErrUnexpectedType   = errors.New("frame type does not match message")

	// Request errors - the request is declined before any bytes are sent
	ErrMalformedAddress    = errors.New("address must be 8 lowercase hex characters")
	ErrOperationNotAllowed = errors.New("operation not allowed")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrInvalidCommand      = errors.New("AT command must be 2 ASCII characters")
)

// ErrorType represents the category of a transport error
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeclinedError reports a request refused locally. No bytes were written.
type DeclinedError struct {
	Err    error  // ErrMalformedAddress, ErrOperationNotAllowed, ...
	Op     string // Session operation that declined
	Reason string // Human-readable detail
}

func (e *DeclinedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s declined: %v: %s", e.Op, e.Err, e.Reason)
	}
	return fmt.Sprintf("%s declined: %v", e.Op, e.Err)
}

func (e *DeclinedError) Unwrap() error {
	return e.Err
}

func declined(op string, err error, reason string) *DeclinedError {
	return &DeclinedError{Op: op, Err: err, Reason: reason}
}

// IsDeclined returns true if err is a locally declined request
func IsDeclined(err error) bool {
	var de *DeclinedError
	return errors.As(err, &de)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the link is gone and the
// session cannot continue. Declined requests are never fatal.
func IsFatal(err error) bool {
	if err == nil || IsDeclined(err) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent || isDeviceGoneError(te.Err)
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// isTimeout reports deadline-style failures from the transport or context.
func isTimeout(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypeTimeout {
		return true
	}
	return errors.Is(err, ErrTransportTimeout) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating the USB serial
// adapter was unplugged during I/O.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}

		if runtime.GOOS == "windows" {
			//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
			switch errno {
			case errAccessDenied, errGenFailure, errNoSuchDevice:
				return true
			}
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewTransportClosedError creates a closed-transport error (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}
