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

// Default frame IDs. Zero suppresses the module's response.
const (
	DefaultLocalFrameID    byte = 0x52
	DefaultRemoteFrameID   byte = 0x01
	DefaultTransmitFrameID byte = 0x01
)

// Remote AT defaults.
const (
	// ReservedUnknown fills the 16-bit reserved address field.
	ReservedUnknown uint16 = 0xFFFE
	// RemoteApplyChanges asks the remote module to apply the change at once.
	RemoteApplyChanges byte = 0x02
)

// LocalATCommand queries or sets a register on the attached module. A nil or
// empty Value is a query; both encode identically and decode as nil. Queued
// selects frame type 0x09, which stores the value without applying it.
type LocalATCommand struct {
	Command ATCommand
	Value   []byte
	FrameID byte
	Queued  bool
}

// FrameType implements Message.
func (m *LocalATCommand) FrameType() FrameType {
	if m.Queued {
		return FrameLocalATQueued
	}
	return FrameLocalAT
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *LocalATCommand) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(m.FrameType(), 3+len(m.Value))
	w.u8(m.FrameID)
	w.command(m.Command)
	w.bytes(m.Value)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *LocalATCommand) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameLocalAT, FrameLocalATQueued)
	if err != nil {
		return err
	}
	m.Queued = t == FrameLocalATQueued
	m.FrameID = r.u8()
	m.Command = r.command()
	m.Value = r.rest()
	return r.done(t)
}

// RemoteATCommand queries or sets a register on another module. As with
// LocalATCommand, an empty Value is a query and decodes as nil.
type RemoteATCommand struct {
	Destination NodeAddress
	Command     ATCommand
	Value       []byte
	Reserved    uint16
	FrameID     byte
	Options     byte
}

// NewRemoteATCommand fills in the reserved field and apply-changes option.
func NewRemoteATCommand(dest NodeAddress, cmd ATCommand, value []byte) *RemoteATCommand {
	return &RemoteATCommand{
		FrameID:     DefaultRemoteFrameID,
		Destination: dest,
		Reserved:    ReservedUnknown,
		Options:     RemoteApplyChanges,
		Command:     cmd,
		Value:       slices.Clone(value),
	}
}

// FrameType implements Message.
func (*RemoteATCommand) FrameType() FrameType { return FrameRemoteAT }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *RemoteATCommand) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameRemoteAT, 14+len(m.Value))
	w.u8(m.FrameID)
	w.node(m.Destination)
	w.u16(m.Reserved)
	w.u8(m.Options)
	w.command(m.Command)
	w.bytes(m.Value)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *RemoteATCommand) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameRemoteAT)
	if err != nil {
		return err
	}
	m.FrameID = r.u8()
	m.Destination = r.node()
	m.Reserved = r.u16()
	m.Options = r.u8()
	m.Command = r.command()
	m.Value = r.rest()
	return r.done(t)
}

// ATResponse answers a LocalATCommand. Data holds the register value for
// queries and is empty for sets.
type ATResponse struct {
	Command ATCommand
	Data    []byte
	FrameID byte
	Status  ATStatus
}

// FrameType implements Message.
func (*ATResponse) FrameType() FrameType { return FrameATResponse }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ATResponse) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameATResponse, 4+len(m.Data))
	w.u8(m.FrameID)
	w.command(m.Command)
	w.u8(byte(m.Status))
	w.bytes(m.Data)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ATResponse) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameATResponse)
	if err != nil {
		return err
	}
	m.FrameID = r.u8()
	m.Command = r.command()
	m.Status = ATStatus(r.u8())
	m.Data = r.rest()
	return r.done(t)
}

// RemoteATResponse answers a RemoteATCommand.
type RemoteATResponse struct {
	Source   NodeAddress
	Command  ATCommand
	Data     []byte
	Reserved uint16
	FrameID  byte
	Status   ATStatus
}

// FrameType implements Message.
func (*RemoteATResponse) FrameType() FrameType { return FrameRemoteATResponse }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *RemoteATResponse) MarshalBinary() ([]byte, error) {
	w := newPayloadWriter(FrameRemoteATResponse, 14+len(m.Data))
	w.u8(m.FrameID)
	w.node(m.Source)
	w.u16(m.Reserved)
	w.command(m.Command)
	w.u8(byte(m.Status))
	w.bytes(m.Data)
	return w.result()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *RemoteATResponse) UnmarshalBinary(data []byte) error {
	r, t, err := openPayload(data, FrameRemoteATResponse)
	if err != nil {
		return err
	}
	m.FrameID = r.u8()
	m.Source = r.node()
	m.Reserved = r.u16()
	m.Command = r.command()
	m.Status = ATStatus(r.u8())
	m.Data = r.rest()
	return r.done(t)
}
