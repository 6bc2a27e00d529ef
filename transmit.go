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

// Transmit options and reserved field values.
const (
	// OptionTraceRoute enables trace route on a transmit request.
	OptionTraceRoute byte = 0x08
	// ReservedTraceRoute is the reserved field value used with trace route.
	ReservedTraceRoute uint16 = 0xFFFF
)

// Digi explicit addressing constants used by the link quality test.
const (
	EndpointDigiDevice byte   = 0xE6
	ClusterLinkTest    uint16 = 0x0014
	ProfileDigi        uint16 = 0xC105
)

// TransmitRequest sends Data to Destination using standard addressing.
type TransmitRequest struct {
	Destination     NodeAddress
	Data            []byte
	Reserved        uint16
	FrameID         byte
	BroadcastRadius byte
	Options         byte
}

// FrameType implements Message.
func (*TransmitRequest) FrameType() FrameType { return FrameTransmit }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *TransmitRequest) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameTransmit, 13+len(m.Data))
	w.u8(m.FrameID)
	w.node(m.Destination)
	w.u16(m.Reserved)
	w.u8(m.BroadcastRadius)
	w.u8(m.Options)
	w.bytes(m.Data)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *TransmitRequest) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameTransmit)
	if err != nil {
		return err
	}
	m.FrameID = r.u8()
	m.Destination = r.node()
	m.Reserved = r.u16()
	m.BroadcastRadius = r.u8()
	m.Options = r.u8()
	m.Data = r.rest()
	return r.done(t)
}

// ExplicitTransmit sends Data with explicit endpoints, cluster and profile.
type ExplicitTransmit struct {
	Destination     NodeAddress
	Data            []byte
	Reserved        uint16
	ClusterID       uint16
	ProfileID       uint16
	FrameID         byte
	SourceEndpoint  byte
	DestEndpoint    byte
	BroadcastRadius byte
	Options         byte
}

// FrameType implements Message.
func (*ExplicitTransmit) FrameType() FrameType { return FrameExplicitTransmit }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ExplicitTransmit) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameExplicitTransmit, 19+len(m.Data))
	w.u8(m.FrameID)
	w.node(m.Destination)
	w.u16(m.Reserved)
	w.u8(m.SourceEndpoint)
	w.u8(m.DestEndpoint)
	w.u16(m.ClusterID)
	w.u16(m.ProfileID)
	w.u8(m.BroadcastRadius)
	w.u8(m.Options)
	w.bytes(m.Data)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ExplicitTransmit) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameExplicitTransmit)
	if err != nil {
		return err
	}
	m.FrameID = r.u8()
	m.Destination = r.node()
	m.Reserved = r.u16()
	m.SourceEndpoint = r.u8()
	m.DestEndpoint = r.u8()
	m.ClusterID = r.u16()
	m.ProfileID = r.u16()
	m.BroadcastRadius = r.u8()
	m.Options = r.u8()
	m.Data = r.rest()
	return r.done(t)
}

// TransmitStatus reports the outcome of a transmit request.
type TransmitStatus struct {
	Reserved   uint16
	FrameID    byte
	RetryCount byte
	Delivery   DeliveryStatus
	Discovery  DiscoveryStatus
}

// FrameType implements Message.
func (*TransmitStatus) FrameType() FrameType { return FrameTransmitStatus }

// Delivered reports whether the transmission succeeded.
func (m *TransmitStatus) Delivered() bool {
	return m.Delivery == DeliverySuccess
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *TransmitStatus) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameTransmitStatus, 6)
	w.u8(m.FrameID)
	w.u16(m.Reserved)
	w.u8(m.RetryCount)
	w.u8(byte(m.Delivery))
	w.u8(byte(m.Discovery))
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *TransmitStatus) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameTransmitStatus)
	if err != nil {
		return err
	}
	m.FrameID = r.u8()
	m.Reserved = r.u16()
	m.RetryCount = r.u8()
	m.Delivery = DeliveryStatus(r.u8())
	m.Discovery = DiscoveryStatus(r.u8())
	return r.done(t)
}
