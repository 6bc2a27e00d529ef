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

package testing

import (
	"bytes"
	"encoding/hex"
	"slices"

	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

// VirtualNode is a remote module reachable through a VirtualModule. It keeps
// its own registers and records the data transmitted to it.
type VirtualNode struct {
	registers map[string][]byte
	received  [][]byte
	mu        syncutil.Mutex
	Address   [8]byte
	// RSSI is reported in link test results, as -dBm.
	RSSI    byte
	Echo    bool
	present bool
}

// NewVirtualNode creates a node in range with SH/SL matching addr.
func NewVirtualNode(addr [8]byte) *VirtualNode {
	return &VirtualNode{
		Address: addr,
		RSSI:    0x30,
		present: true,
		registers: map[string][]byte{
			"SH": slices.Clone(addr[:4]),
			"SL": slices.Clone(addr[4:]),
			"ID": {0x7F, 0xFF},
			"CE": {0x00},
			"BH": {0x00},
			"NI": []byte("NODE"),
		},
	}
}

// AddressString renders the address the way the host formats it.
func (n *VirtualNode) AddressString() string {
	return hex.EncodeToString(n.Address[:])
}

// Register returns a register value
func (n *VirtualNode) Register(cmd string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.registers[cmd]
	return slices.Clone(v), ok
}

// SetRegister stores a register value
func (n *VirtualNode) SetRegister(cmd string, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registers[cmd] = slices.Clone(value)
}

// Received returns every payload delivered to the node, oldest first.
func (n *VirtualNode) Received() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]byte, len(n.received))
	for i, d := range n.received {
		out[i] = slices.Clone(d)
	}
	return out
}

// Remove takes the node out of range
func (n *VirtualNode) Remove() {
	n.mu.Lock()
	n.present = false
	n.mu.Unlock()
}

// Insert brings the node back into range
func (n *VirtualNode) Insert() {
	n.mu.Lock()
	n.present = true
	n.mu.Unlock()
}

// Present reports whether the node is in range
func (n *VirtualNode) Present() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.present
}

func (n *VirtualNode) deliver(data []byte) {
	n.mu.Lock()
	n.received = append(n.received, slices.Clone(data))
	n.mu.Unlock()
}

// identification returns the node's ND/FN response body: MY, SH, SL and the
// zero-terminated NI string.
func (n *VirtualNode) identification() []byte {
	ni, _ := n.Register("NI")
	out := make([]byte, 0, 11+len(ni))
	out = append(out, reservedUnknown>>8, reservedUnknown&0xFF)
	out = append(out, n.Address[:]...)
	out = append(out, ni...)
	return append(out, 0x00)
}

func (n *VirtualNode) is(addr []byte) bool {
	return bytes.Equal(n.Address[:], addr)
}
