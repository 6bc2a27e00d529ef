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

import "slices"

// ReceivePacket is data received with standard addressing (AO=0).
type ReceivePacket struct {
	Source   NodeAddress
	Data     []byte
	Reserved uint16
	Options  byte
}

// FrameType implements Message.
func (*ReceivePacket) FrameType() FrameType { return FrameReceivePacket }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ReceivePacket) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameReceivePacket, 11+len(m.Data))
	w.node(m.Source)
	w.u16(m.Reserved)
	w.u8(m.Options)
	w.bytes(m.Data)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ReceivePacket) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameReceivePacket)
	if err != nil {
		return err
	}
	m.Source = r.node()
	m.Reserved = r.u16()
	m.Options = r.u8()
	m.Data = r.rest()
	return r.done(t)
}

// ExplicitRxIndicator is data received with explicit addressing (AO=1).
type ExplicitRxIndicator struct {
	Source         NodeAddress
	Data           []byte
	Reserved       uint16
	ClusterID      uint16
	ProfileID      uint16
	SourceEndpoint byte
	DestEndpoint   byte
	Options        byte
}

// FrameType implements Message.
func (*ExplicitRxIndicator) FrameType() FrameType { return FrameExplicitRx }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ExplicitRxIndicator) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameExplicitRx, 17+len(m.Data))
	w.node(m.Source)
	w.u16(m.Reserved)
	w.u8(m.SourceEndpoint)
	w.u8(m.DestEndpoint)
	w.u16(m.ClusterID)
	w.u16(m.ProfileID)
	w.u8(m.Options)
	w.bytes(m.Data)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ExplicitRxIndicator) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameExplicitRx)
	if err != nil {
		return err
	}
	m.Source = r.node()
	m.Reserved = r.u16()
	m.SourceEndpoint = r.u8()
	m.DestEndpoint = r.u8()
	m.ClusterID = r.u16()
	m.ProfileID = r.u16()
	m.Options = r.u8()
	m.Data = r.rest()
	return r.done(t)
}

// RouteInformation is emitted for each hop of a trace route or NACK
// transmission. It carries topology only and never updates registers.
type RouteInformation struct {
	Destination NodeAddress
	Source      NodeAddress
	Responder   NodeAddress
	Receiver    NodeAddress
	Timestamp   uint32
	SourceEvent byte
	// Length is the module's count of bytes that follow it, kept verbatim.
	Length      byte
	AckTimeouts byte
	TxBlocked   byte
	Reserved    byte
}

// routeInformationLength is the payload size after the frame type byte.
const routeInformationLength = 41

// FrameType implements Message.
func (*RouteInformation) FrameType() FrameType { return FrameRouteInformation }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *RouteInformation) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameRouteInformation, routeInformationLength)
	w.u8(m.SourceEvent)
	w.u8(m.Length)
	w.u32(m.Timestamp)
	w.u8(m.AckTimeouts)
	w.u8(m.TxBlocked)
	w.u8(m.Reserved)
	w.node(m.Destination)
	w.node(m.Source)
	w.node(m.Responder)
	w.node(m.Receiver)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *RouteInformation) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameRouteInformation)
	if err != nil {
		return err
	}
	m.SourceEvent = r.u8()
	m.Length = r.u8()
	m.Timestamp = r.u32()
	m.AckTimeouts = r.u8()
	m.TxBlocked = r.u8()
	m.Reserved = r.u8()
	m.Destination = r.node()
	m.Source = r.node()
	m.Responder = r.node()
	m.Receiver = r.node()
	return r.done(t)
}

// UnknownFrame holds a checksum-valid frame whose type has no decoder.
type UnknownFrame struct {
	Payload []byte
	Type    FrameType
}

// FrameType implements Message.
func (m *UnknownFrame) FrameType() FrameType { return m.Type }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *UnknownFrame) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(m.Type, len(m.Payload))
	w.bytes(m.Payload)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Any type is
// accepted.
func (m *UnknownFrame) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	m.Type = FrameType(data[0])
	if len(data) > 1 {
		m.Payload = slices.Clone(data[1:])
	} else {
		m.Payload = nil
	}
	return nil
}
