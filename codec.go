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
	"fmt"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

// Encode serializes msg into a complete wire frame: start delimiter, length,
// frame data and checksum, escaped when escaped is set. Field errors such
// as ErrMalformedAddress are returned before anything is built.
func Encode(msg Message, escaped bool) ([]byte, error) {
	data, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.FrameType(), err)
	}
	raw, err := frame.Build(data, escaped)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w: %w", msg.FrameType(), ErrInvalidParameter, err)
	}
	return raw, nil
}

// Decode validates one complete wire frame and dispatches it. Validation
// failures return an error wrapping ErrFrameTooShort, ErrLengthMismatch or
// ErrChecksumMismatch; decode anomalies are returned both as the error and
// in Decoded.Err.
func Decode(raw []byte, escaped bool) (Decoded, error) {
	if escaped {
		raw = frame.Unescape(raw)
	}
	if err := frame.Validate(raw); err != nil {
		return Decoded{Raw: raw, Err: err}, err
	}
	d := Dispatch(frame.Data(raw))
	d.Raw = raw
	return d, d.Err
}
