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

package frame

import (
	"errors"
	"fmt"
)

// Validation failures. Validate wraps one of these with the offending values.
var (
	ErrTooShort         = errors.New("frame too short")
	ErrMissingDelimiter = errors.New("frame missing start delimiter")
	ErrLengthMismatch   = errors.New("frame length mismatch")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrFrameTooLarge    = errors.New("frame data exceeds maximum length")
)

// DeclaredLength returns the frame data length carried in the length field
// of an unescaped frame. ok is false when the length bytes are not present.
func DeclaredLength(raw []byte) (length int, ok bool) {
	if len(raw) < HeaderLength {
		return 0, false
	}
	return int(raw[1])<<8 | int(raw[2]), true
}

// ExpectedLength returns the total number of unescaped bytes, delimiter and
// checksum included, that the frame in raw declares.
func ExpectedLength(raw []byte) (total int, ok bool) {
	length, ok := DeclaredLength(raw)
	if !ok {
		return 0, false
	}
	return HeaderLength + length + 1, true
}

// Data returns the frame data (frame type + payload) of a validated frame.
func Data(raw []byte) []byte {
	if len(raw) < MinFrameLength {
		return nil
	}
	return raw[HeaderLength : len(raw)-1]
}

// Validate checks an unescaped frame: minimum size, start delimiter, that the
// length field matches the frame data actually present, and the checksum.
// It never panics; the returned error says why the frame was rejected.
func Validate(raw []byte) error {
	if len(raw) < MinFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrTooShort, len(raw))
	}
	if raw[0] != StartDelimiter {
		return fmt.Errorf("%w: got 0x%02X", ErrMissingDelimiter, raw[0])
	}

	declared, _ := DeclaredLength(raw)
	data := Data(raw)
	if declared != len(data) {
		return fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, declared, len(data))
	}

	want := Checksum(data)
	if got := raw[len(raw)-1]; got != want {
		return fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksumMismatch, got, want)
	}
	return nil
}

// Build wraps frame data into a complete frame: start delimiter, big-endian
// length, data and checksum. With escaped set the result is API mode 2 encoded.
func Build(frameData []byte, escaped bool) ([]byte, error) {
	if len(frameData) > MaxFrameDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frameData))
	}

	raw := make([]byte, 0, len(frameData)+MinFrameLength)
	raw = append(raw, StartDelimiter, byte(len(frameData)>>8), byte(len(frameData)))
	raw = append(raw, frameData...)
	raw = append(raw, Checksum(frameData))

	if escaped {
		return Escape(raw), nil
	}
	return raw, nil
}
