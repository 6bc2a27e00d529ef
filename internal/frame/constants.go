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

// Package frame holds the byte-level rules of the DigiMesh API frame format:
// the start delimiter, length field, checksum and API mode 2 escaping.
package frame

// Frame markers and control bytes
const (
	StartDelimiter = 0x7E // Frame start marker
	EscapeByte     = 0x7D // Escape prefix in API mode 2
	XON            = 0x11 // Software flow control, escaped in API mode 2
	XOFF           = 0x13 // Software flow control, escaped in API mode 2
	EscapeXOR      = 0x20 // Escaped bytes are XORed with this value
)

// Frame size limits
const (
	HeaderLength       = 3      // start delimiter + 2 length bytes
	MinFrameLength     = 4      // start delimiter + 2 length bytes + checksum
	MaxFrameDataLength = 0xFFFF // length field is 16 bits
)
