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
	"errors"
	"fmt"
	"slices"
)

// dispatchEntry describes how to decode one inbound frame type. report marks
// frames worth surfacing to a human-facing sink; the rest only update state.
type dispatchEntry struct {
	newMessage func() Message
	name       string
	report     bool
}

var dispatchTable = map[FrameType]dispatchEntry{
	FrameATResponse: {
		name:       "AT Command Response",
		newMessage: func() Message { return &ATResponse{} },
		report:     true,
	},
	FrameTransmitStatus: {
		name:       "Transmit Status",
		newMessage: func() Message { return &TransmitStatus{} },
		report:     true,
	},
	FrameRouteInformation: {
		name:       "Route Information Packet",
		newMessage: func() Message { return &RouteInformation{} },
		report:     true,
	},
	FrameReceivePacket: {
		name:       "Receive Packet (AO=0)",
		newMessage: func() Message { return &ReceivePacket{} },
		report:     false,
	},
	FrameExplicitRx: {
		name:       "Explicit Rx Indicator (AO=1)",
		newMessage: func() Message { return &ExplicitRxIndicator{} },
		report:     true,
	},
	FrameRemoteATResponse: {
		name:       "Remote Command Response",
		newMessage: func() Message { return &RemoteATResponse{} },
		report:     true,
	},
}

// InboundFrameTypes returns the frame types with a decoder, in ascending order.
func InboundFrameTypes() []FrameType {
	types := make([]FrameType, 0, len(dispatchTable))
	for t := range dispatchTable {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Decoded is the result of dispatching one checksum-valid frame.
type Decoded struct {
	// Message is the decoded value, *UnknownFrame when the type has no
	// decoder, or nil for an empty frame.
	Message Message
	// Err is nil for a fully decoded frame. Otherwise it wraps
	// ErrShortPayload, ErrUnknownFrameType or ErrEmptyFrame.
	Err error
	// Name is the dispatch table name of the frame type.
	Name string
	// Raw is the unescaped frame, start delimiter and checksum included.
	Raw    []byte
	Type   FrameType
	Report bool
}

// Valid reports whether the frame decoded without anomalies.
func (d Decoded) Valid() bool {
	return d.Err == nil
}

// Unknown reports whether the frame type has no decoder.
func (d Decoded) Unknown() bool {
	return errors.Is(d.Err, ErrUnknownFrameType)
}

// Dispatch decodes frame data (type byte + payload) using the dispatch
// table. It never fails outright: anomalies are carried in Decoded.Err.
func Dispatch(frameData []byte) Decoded {
	if len(frameData) == 0 {
		return Decoded{Err: ErrEmptyFrame}
	}

	t := FrameType(frameData[0])
	entry, ok := dispatchTable[t]
	if !ok {
		unknown := &UnknownFrame{}
		_ = unknown.UnmarshalBinary(frameData)
		return Decoded{
			Type:    t,
			Name:    t.String(),
			Message: unknown,
			Err:     fmt.Errorf("%w: 0x%02X", ErrUnknownFrameType, byte(t)),
		}
	}

	msg := entry.newMessage()
	err := msg.UnmarshalBinary(frameData)
	return Decoded{
		Type:    t,
		Name:    entry.name,
		Message: msg,
		Report:  entry.report,
		Err:     err,
	}
}
