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
	"encoding"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

// FrameType is the first byte of frame data and selects the message layout.
type FrameType byte

// Frame types understood by this package.
const (
	FrameLocalAT          FrameType = 0x08
	FrameLocalATQueued    FrameType = 0x09
	FrameTransmit         FrameType = 0x10
	FrameExplicitTransmit FrameType = 0x11
	FrameRemoteAT         FrameType = 0x17
	FrameATResponse       FrameType = 0x88
	FrameTransmitStatus   FrameType = 0x8B
	FrameRouteInformation FrameType = 0x8D
	FrameReceivePacket    FrameType = 0x90
	FrameExplicitRx       FrameType = 0x91
	FrameRemoteATResponse FrameType = 0x97
)

var frameTypeNames = map[FrameType]string{
	FrameLocalAT:          "AT Command",
	FrameLocalATQueued:    "AT Command - Queue Parameter Value",
	FrameTransmit:         "Transmit Request",
	FrameExplicitTransmit: "Explicit Addressing Command Frame",
	FrameRemoteAT:         "Remote AT Command Request",
	FrameATResponse:       "AT Command Response",
	FrameTransmitStatus:   "Transmit Status",
	FrameRouteInformation: "Route Information Packet",
	FrameReceivePacket:    "Receive Packet",
	FrameExplicitRx:       "Explicit Rx Indicator",
	FrameRemoteATResponse: "Remote Command Response",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("frame type 0x%02X", byte(t))
}

// Message is one typed frame payload. MarshalBinary produces frame data
// (the frame type byte followed by the payload); UnmarshalBinary reads it
// back. Decoding is positional and tolerant: when the payload is short the
// fields that were present are filled in and ErrShortPayload is returned.
type Message interface {
	FrameType() FrameType
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// ATStatus is the command status byte of AT responses.
type ATStatus byte

// AT command status values.
const (
	ATStatusOK               ATStatus = 0x00
	ATStatusError            ATStatus = 0x01
	ATStatusInvalidCommand   ATStatus = 0x02
	ATStatusInvalidParameter ATStatus = 0x03
	ATStatusTxFailure        ATStatus = 0x04
)

func (s ATStatus) String() string {
	switch s {
	case ATStatusOK:
		return "OK"
	case ATStatusError:
		return "ERROR"
	case ATStatusInvalidCommand:
		return "invalid command"
	case ATStatusInvalidParameter:
		return "invalid parameter"
	case ATStatusTxFailure:
		return "transmission failure"
	default:
		return fmt.Sprintf("status 0x%02X", byte(s))
	}
}

// DeliveryStatus is the delivery result reported by a transmit status frame.
type DeliveryStatus byte

// Delivery status values.
const (
	DeliverySuccess            DeliveryStatus = 0x00
	DeliveryMACAckFailure      DeliveryStatus = 0x01
	DeliveryCollisionAvoidance DeliveryStatus = 0x02
	DeliveryNetworkAckFailure  DeliveryStatus = 0x21
	DeliveryRouteNotFound      DeliveryStatus = 0x25
	DeliveryInternalResource   DeliveryStatus = 0x31
	DeliveryInternalError      DeliveryStatus = 0x32
	DeliveryPayloadTooLarge    DeliveryStatus = 0x74
	DeliveryIndirectMessage    DeliveryStatus = 0x75
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliverySuccess:
		return "success"
	case DeliveryMACAckFailure:
		return "MAC ACK failure"
	case DeliveryCollisionAvoidance:
		return "collision avoidance failure"
	case DeliveryNetworkAckFailure:
		return "network ACK failure"
	case DeliveryRouteNotFound:
		return "route not found"
	case DeliveryInternalResource:
		return "internal resource error"
	case DeliveryInternalError:
		return "internal error"
	case DeliveryPayloadTooLarge:
		return "payload too large"
	case DeliveryIndirectMessage:
		return "indirect message requested"
	default:
		return fmt.Sprintf("delivery 0x%02X", byte(s))
	}
}

// DiscoveryStatus reports the discovery overhead of a transmission.
type DiscoveryStatus byte

// Discovery status values.
const (
	DiscoveryNone  DiscoveryStatus = 0x00
	DiscoveryRoute DiscoveryStatus = 0x02
)

func (s DiscoveryStatus) String() string {
	switch s {
	case DiscoveryNone:
		return "no discovery overhead"
	case DiscoveryRoute:
		return "route discovery"
	default:
		return fmt.Sprintf("discovery 0x%02X", byte(s))
	}
}

// payloadWriter builds frame data, keeping the first field error.
type payloadWriter struct {
	err error
	buf []byte
}

func newPayloadWriter(t FrameType, size int) *payloadWriter {
	buf := make([]byte, 0, size+1)
	return &payloadWriter{buf: append(buf, byte(t))}
}

func (w *payloadWriter) u8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *payloadWriter) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *payloadWriter) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *payloadWriter) node(n NodeAddress) {
	b, err := n.Bytes()
	if err != nil {
		w.fail(err)
		b = make([]byte, 8)
	}
	w.buf = append(w.buf, b...)
}

func (w *payloadWriter) command(c ATCommand) {
	if err := c.Validate(); err != nil {
		w.fail(err)
		w.buf = append(w.buf, 0, 0)
		return
	}
	w.buf = append(w.buf, c[0], c[1])
}

func (w *payloadWriter) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *payloadWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *payloadWriter) result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if len(w.buf) > frame.MaxFrameDataLength {
		return nil, fmt.Errorf("%w: frame data is %d bytes, limit %d",
			ErrInvalidParameter, len(w.buf), frame.MaxFrameDataLength)
	}
	return w.buf, nil
}

// payloadReader reads fields positionally. Once a field does not fit, every
// later field reads as zero and short is set.
type payloadReader struct {
	buf   []byte
	short bool
}

// openPayload checks the frame type byte against the accepted types.
func openPayload(data []byte, accept ...FrameType) (*payloadReader, FrameType, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyFrame
	}
	t := FrameType(data[0])
	if !slices.Contains(accept, t) {
		return nil, t, fmt.Errorf("%w: got 0x%02X, want %s", ErrUnexpectedType, data[0], accept[0])
	}
	return &payloadReader{buf: data[1:]}, t, nil
}

func (r *payloadReader) take(n int) []byte {
	if r.short || len(r.buf) < n {
		r.short = true
		r.buf = nil
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *payloadReader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *payloadReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *payloadReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *payloadReader) node() NodeAddress {
	b := r.take(8)
	if b == nil {
		return NodeAddress{}
	}
	return NodeAddressFromBytes(b)
}

func (r *payloadReader) command() ATCommand {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return ATCommand(b)
}

// rest returns a copy of the remaining bytes, nil when there are none.
func (r *payloadReader) rest() []byte {
	if len(r.buf) == 0 {
		return nil
	}
	out := slices.Clone(r.buf)
	r.buf = nil
	return out
}

func (r *payloadReader) done(t FrameType) error {
	if r.short {
		return fmt.Errorf("%w: %s", ErrShortPayload, t)
	}
	return nil
}
