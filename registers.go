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
	"maps"
	"slices"
	"strings"
)

// ATCommand is a two-character AT register or command name.
type ATCommand string

// Registers and commands used by the session.
const (
	CmdNetworkID        ATCommand = "ID"
	CmdNodeType         ATCommand = "CE"
	CmdBroadcastHops    ATCommand = "BH"
	CmdDiscoveryTimeout ATCommand = "NT"
	CmdSerialHigh       ATCommand = "SH"
	CmdSerialLow        ATCommand = "SL"
	CmdDestHigh         ATCommand = "DH"
	CmdDestLow          ATCommand = "DL"
	CmdAPIMode          ATCommand = "AP"
	CmdAPIOutput        ATCommand = "AO"
	CmdDiscoveryOptions ATCommand = "NO"
	CmdGoodFrames       ATCommand = "GD"
	CmdTimeouts         ATCommand = "EA"
	CmdTransmitErrors   ATCommand = "TR"
	CmdLastRSSI         ATCommand = "DB"
	CmdFindNeighbors    ATCommand = "FN"
	CmdNodeDiscover     ATCommand = "ND"
)

// Validate checks that c is two printable ASCII characters.
func (c ATCommand) Validate() error {
	if len(c) != 2 {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, string(c))
	}
	for i := range 2 {
		if c[i] < 0x20 || c[i] > 0x7E {
			return fmt.Errorf("%w: %q", ErrInvalidCommand, string(c))
		}
	}
	return nil
}

// API modes stored in the AP register.
const (
	APIModeTransparent byte = 0
	APIModeUnescaped   byte = 1
	APIModeEscaped     byte = 2
)

// Diagnostics holds link counters. Only inbound frame processing changes
// them; callers get copies.
type Diagnostics struct {
	// GoodFrames counts acknowledged transmissions, or the module's GD
	// value when it was last queried.
	GoodFrames uint64
	// Timeouts is the module's EA (MAC ACK timeout) counter.
	Timeouts uint64
	// TransmitErrors counts failed transmissions, or the module's TR value.
	TransmitErrors uint64
	// LastRSSI is the signal strength of the last received packet in dBm
	// (negative), valid when HasRSSI is set.
	LastRSSI int
	HasRSSI  bool
}

// Registers is the register model: the last known value of every local
// register plus a cache of values reported by remote modules. It is not
// safe for concurrent use; Session serializes access.
type Registers struct {
	local  map[ATCommand][]byte
	remote map[NodeAddress]map[ATCommand][]byte
	diag   Diagnostics
}

// NewRegisters creates an empty register model.
func NewRegisters() *Registers {
	return &Registers{
		local:  make(map[ATCommand][]byte),
		remote: make(map[NodeAddress]map[ATCommand][]byte),
	}
}

// Get returns a copy of the last known value of a local register.
func (r *Registers) Get(cmd ATCommand) ([]byte, bool) {
	v, ok := r.local[cmd]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set records a local register value.
func (r *Registers) Set(cmd ATCommand, value []byte) {
	r.local[cmd] = slices.Clone(value)
}

// Uint returns a local register as a big-endian unsigned integer.
func (r *Registers) Uint(cmd ATCommand) (uint64, bool) {
	v, ok := r.local[cmd]
	if !ok || len(v) == 0 || len(v) > 8 {
		return 0, false
	}
	return decodeUint(v), true
}

// Remote returns a copy of a register value last reported by node.
func (r *Registers) Remote(node NodeAddress, cmd ATCommand) ([]byte, bool) {
	regs, ok := r.remote[node]
	if !ok {
		return nil, false
	}
	v, ok := regs[cmd]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// SetRemote records a register value for a remote node.
func (r *Registers) SetRemote(node NodeAddress, cmd ATCommand, value []byte) {
	regs, ok := r.remote[node]
	if !ok {
		regs = make(map[ATCommand][]byte)
		r.remote[node] = regs
	}
	regs[cmd] = slices.Clone(value)
}

// Snapshot returns a copy of all local registers.
func (r *Registers) Snapshot() map[ATCommand][]byte {
	out := make(map[ATCommand][]byte, len(r.local))
	for k, v := range r.local {
		out[k] = slices.Clone(v)
	}
	return out
}

// Nodes returns the remote nodes that have reported registers, sorted.
func (r *Registers) Nodes() []NodeAddress {
	nodes := slices.Collect(maps.Keys(r.remote))
	slices.SortFunc(nodes, func(a, b NodeAddress) int {
		return strings.Compare(a.String(), b.String())
	})
	return nodes
}

// LocalAddress returns the module's own address from SH/SL.
func (r *Registers) LocalAddress() (NodeAddress, bool) {
	return r.pair(CmdSerialHigh, CmdSerialLow)
}

// Destination returns the DH/DL destination address.
func (r *Registers) Destination() (NodeAddress, bool) {
	return r.pair(CmdDestHigh, CmdDestLow)
}

// SetDestination overrides DH/DL locally before a send.
func (r *Registers) SetDestination(n NodeAddress) error {
	b, err := n.Bytes()
	if err != nil {
		return err
	}
	r.Set(CmdDestHigh, b[:4])
	r.Set(CmdDestLow, b[4:])
	return nil
}

func (r *Registers) pair(high, low ATCommand) (NodeAddress, bool) {
	h, okH := r.local[high]
	l, okL := r.local[low]
	if !okH || !okL {
		return NodeAddress{}, false
	}
	return NodeAddress{High: AddressFromBytes(h), Low: AddressFromBytes(l)}, true
}

// APIMode returns the AP register when it is known.
func (r *Registers) APIMode() (byte, bool) {
	v, ok := r.Uint(CmdAPIMode)
	if !ok || v > 0xFF {
		return 0, false
	}
	return byte(v), true
}

// Diagnostics returns a copy of the link counters.
func (r *Registers) Diagnostics() Diagnostics {
	return r.diag
}

// Apply updates the model from an inbound message and reports whether the
// diagnostics changed. Only successful AT responses touch registers.
func (r *Registers) Apply(msg Message) (diagChanged bool) {
	switch m := msg.(type) {
	case *ATResponse:
		if m.Status != ATStatusOK {
			return false
		}
		if r.applyDiagnostic(m.Command, m.Data) {
			return true
		}
		if len(m.Data) > 0 && !isDiscoveryCommand(m.Command) {
			r.Set(m.Command, m.Data)
		}
	case *RemoteATResponse:
		if m.Status == ATStatusOK && len(m.Data) > 0 && !isDiscoveryCommand(m.Command) {
			r.SetRemote(m.Source, m.Command, m.Data)
		}
	case *TransmitStatus:
		if m.Delivery == DeliverySuccess {
			r.diag.GoodFrames++
		} else {
			r.diag.TransmitErrors++
		}
		return true
	}
	return false
}

func (r *Registers) applyDiagnostic(cmd ATCommand, data []byte) bool {
	if len(data) == 0 || len(data) > 8 {
		return false
	}
	v := decodeUint(data)
	switch cmd {
	case CmdGoodFrames:
		r.diag.GoodFrames = v
	case CmdTimeouts:
		r.diag.Timeouts = v
	case CmdTransmitErrors:
		r.diag.TransmitErrors = v
	case CmdLastRSSI:
		r.diag.LastRSSI = -int(v)
		r.diag.HasRSSI = true
	default:
		return false
	}
	return true
}

// isDiscoveryCommand reports commands whose responses describe other nodes
// rather than a register value.
func isDiscoveryCommand(cmd ATCommand) bool {
	return cmd == CmdNodeDiscover || cmd == CmdFindNeighbors
}

// EncodeUint returns v as the shortest big-endian byte string, at least one
// byte long, the way register values are written.
func EncodeUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v)}, out...)
		v >>= 8
	}
	return out
}

func decodeUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
