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
	"bytes"
	"errors"
	"slices"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

// Rejection describes a frame the reassembler could not deliver cleanly:
// a corrupt frame (Err wraps a frame validation error) or a valid frame
// with an unknown type or short payload.
type Rejection struct {
	Err error
	// Raw is the unescaped candidate frame, start delimiter included.
	Raw []byte
}

// RejectHandler is called once per rejected frame.
type RejectHandler func(Rejection)

// ReassemblerStats counts what the reassembler has seen since creation or
// the last Reset.
type ReassemblerStats struct {
	// Frames is the number of frames returned by Feed, anomalies included.
	Frames uint64
	// Corrupt counts candidates that failed length or checksum validation.
	Corrupt uint64
	// Unknown counts valid frames with no decoder.
	Unknown uint64
	// Malformed counts valid frames whose payload did not fit the layout.
	Malformed uint64
	// NoiseBytes counts bytes discarded before a start delimiter.
	NoiseBytes uint64
	// Waits counts Feed calls that ended holding an incomplete frame.
	Waits uint64
}

// Reassembler turns an arbitrarily chunked byte stream into frames. It
// owns its buffer and never blocks; it is not safe for concurrent use.
type Reassembler struct {
	onReject RejectHandler
	// buf is empty or starts with the start delimiter of an unresolved frame.
	buf     []byte
	stats   ReassemblerStats
	escaped bool
}

// NewReassembler creates a reassembler. escaped selects API mode 2
// unescaping; onReject may be nil.
func NewReassembler(escaped bool, onReject RejectHandler) *Reassembler {
	return &Reassembler{escaped: escaped, onReject: onReject}
}

// SetEscaped switches between API mode 1 and 2 for subsequent bytes.
func (r *Reassembler) SetEscaped(escaped bool) {
	r.escaped = escaped
}

// Escaped reports whether API mode 2 unescaping is active.
func (r *Reassembler) Escaped() bool {
	return r.escaped
}

// Feed appends chunk to the buffer and returns every frame it completes, in
// stream order. Bytes before the first start delimiter are discarded. Each
// candidate terminated by a later delimiter is resolved now; the final
// candidate is kept while it can still grow into a frame and resolved
// otherwise.
func (r *Reassembler) Feed(chunk []byte) []Decoded {
	return r.FeedFunc(chunk, nil)
}

// FeedFunc is Feed with a hook called for each frame before the next
// candidate is unescaped, so the hook may call SetEscaped and have the
// change apply to the rest of the chunk.
func (r *Reassembler) FeedFunc(chunk []byte, each func(Decoded)) []Decoded {
	r.buf = append(r.buf, chunk...)

	segments := bytes.Split(r.buf, []byte{frame.StartDelimiter})
	r.stats.NoiseBytes += uint64(len(segments[0]))
	if len(segments) == 1 {
		r.buf = nil
		return nil
	}

	var out []Decoded
	emit := func(raw []byte) {
		d, ok := r.resolve(raw)
		if !ok {
			return
		}
		out = append(out, d)
		if each != nil {
			each(d)
		}
	}

	candidates := segments[1:]
	for _, seg := range candidates[:len(candidates)-1] {
		emit(withDelimiter(seg))
	}

	last := withDelimiter(candidates[len(candidates)-1])
	if r.incomplete(last) {
		r.buf = last
		r.stats.Waits++
		return out
	}

	r.buf = nil
	emit(last)
	return out
}

// Pending returns a copy of the buffered bytes after the start delimiter of
// the incomplete frame, or nil when nothing is pending.
func (r *Reassembler) Pending() []byte {
	if len(r.buf) <= 1 {
		return nil
	}
	return slices.Clone(r.buf[1:])
}

// Reset drops any partial frame and clears the statistics.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.stats = ReassemblerStats{}
}

// Discard drops any partial frame, keeping the statistics.
func (r *Reassembler) Discard() {
	r.buf = nil
}

// Stats returns a copy of the counters.
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

// incomplete reports whether the candidate may still become a frame: it is
// shorter than the minimum frame, ends inside an escape sequence, or holds
// fewer bytes than its length field declares.
func (r *Reassembler) incomplete(raw []byte) bool {
	if len(raw) < frame.MinFrameLength {
		return true
	}
	if r.escaped && frame.DanglingEscape(raw) {
		return true
	}
	unescaped := raw
	if r.escaped {
		unescaped = frame.Unescape(raw)
	}
	total, ok := frame.ExpectedLength(unescaped)
	if !ok {
		return true
	}
	return len(unescaped) < total
}

// resolve validates and dispatches one candidate. Corrupt candidates are
// counted and dropped, reported with ok false.
func (r *Reassembler) resolve(raw []byte) (d Decoded, ok bool) {
	d, err := Decode(raw, r.escaped)
	switch {
	case err == nil:
	case d.Message == nil:
		if errors.Is(err, ErrEmptyFrame) {
			r.stats.Malformed++
		} else {
			r.stats.Corrupt++
		}
		Debugf("dropping frame: %v", err)
		r.reject(d.Raw, err)
		return d, false
	case d.Unknown():
		r.stats.Unknown++
		Debugf("frame type 0x%02X not recognized", byte(d.Type))
		r.reject(d.Raw, err)
	default:
		r.stats.Malformed++
		Debugf("malformed %s frame: %v", d.Name, err)
		r.reject(d.Raw, err)
	}

	r.stats.Frames++
	return d, true
}

func (r *Reassembler) reject(raw []byte, err error) {
	if r.onReject != nil {
		r.onReject(Rejection{Raw: slices.Clone(raw), Err: err})
	}
}

func withDelimiter(seg []byte) []byte {
	raw := make([]byte, 0, len(seg)+1)
	raw = append(raw, frame.StartDelimiter)
	return append(raw, seg...)
}
