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

// NeedsEscape reports whether b must be escaped in API mode 2.
func NeedsEscape(b byte) bool {
	switch b {
	case StartDelimiter, EscapeByte, XON, XOFF:
		return true
	default:
		return false
	}
}

// Escape applies API mode 2 escaping to every byte following the start
// delimiter. A leading start delimiter is copied through unchanged.
func Escape(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/4+1)
	for i, b := range raw {
		if i == 0 && b == StartDelimiter {
			out = append(out, b)
			continue
		}
		if NeedsEscape(b) {
			out = append(out, EscapeByte, b^EscapeXOR)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Unescape reverses Escape. Input without escape bytes is returned as an
// unchanged copy, so unescaping already-unescaped data is a no-op. A trailing
// escape byte with nothing after it is kept as-is; see DanglingEscape.
func Unescape(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b == EscapeByte && i+1 < len(raw) {
			i++
			out = append(out, raw[i]^EscapeXOR)
			continue
		}
		out = append(out, b)
	}
	return out
}

// DanglingEscape reports whether raw ends in the middle of an escape
// sequence, meaning the escaped byte has not arrived yet.
func DanglingEscape(raw []byte) bool {
	for i := 0; i < len(raw); i++ {
		if raw[i] != EscapeByte {
			continue
		}
		if i+1 >= len(raw) {
			return true
		}
		i++
	}
	return false
}
