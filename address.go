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
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the text length of one half of a 64-bit node address.
const AddressLength = 8

// Address is one 32-bit half of a node address, rendered as exactly eight
// lowercase hex characters ("0013a200").
type Address string

// Valid reports whether a is exactly eight lowercase hex characters.
func (a Address) Valid() bool {
	if len(a) != AddressLength {
		return false
	}
	for i := range len(a) {
		c := a[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Validate returns ErrMalformedAddress, with the offending value, when a is
// not a valid address.
func (a Address) Validate() error {
	if !a.Valid() {
		return fmt.Errorf("%w: %q", ErrMalformedAddress, string(a))
	}
	return nil
}

// Bytes returns the four wire bytes of a.
func (a Address) Bytes() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAddress, err)
	}
	return b, nil
}

// AddressFromBytes renders wire bytes as an Address. Shorter input is
// zero-padded on the left and longer input keeps its last four bytes, so
// register values of any width map onto an address.
func AddressFromBytes(b []byte) Address {
	var buf [4]byte
	if len(b) > len(buf) {
		b = b[len(b)-len(buf):]
	}
	copy(buf[len(buf)-len(b):], b)
	return Address(hex.EncodeToString(buf[:]))
}

// ParseAddress validates s as an Address without changing its case.
func ParseAddress(s string) (Address, error) {
	a := Address(s)
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// NodeAddress is a full 64-bit module address split into its high and low
// halves, mirroring the SH/SL and DH/DL register pairs.
type NodeAddress struct {
	High Address
	Low  Address
}

// BroadcastAddress reaches every module in the network.
var BroadcastAddress = NodeAddress{High: "00000000", Low: "0000ffff"}

// Validate checks both halves.
func (n NodeAddress) Validate() error {
	if err := n.High.Validate(); err != nil {
		return fmt.Errorf("high address: %w", err)
	}
	if err := n.Low.Validate(); err != nil {
		return fmt.Errorf("low address: %w", err)
	}
	return nil
}

// IsBroadcast reports whether n is the broadcast address.
func (n NodeAddress) IsBroadcast() bool {
	return n == BroadcastAddress
}

// Bytes returns the eight wire bytes of n, high half first.
func (n NodeAddress) Bytes() ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	high, _ := n.High.Bytes()
	low, _ := n.Low.Bytes()
	return append(high, low...), nil
}

func (n NodeAddress) String() string {
	return string(n.High) + string(n.Low)
}

// NodeAddressFromBytes renders eight wire bytes as a NodeAddress.
func NodeAddressFromBytes(b []byte) NodeAddress {
	if len(b) < 8 {
		padded := make([]byte, 8)
		copy(padded[8-len(b):], b)
		b = padded
	}
	return NodeAddress{High: AddressFromBytes(b[:4]), Low: AddressFromBytes(b[4:8])}
}

// ParseNodeAddress accepts "hhhhhhhhllllllll" or "hhhhhhhh:llllllll".
func ParseNodeAddress(s string) (NodeAddress, error) {
	high, low, found := strings.Cut(s, ":")
	if !found {
		if len(s) != 2*AddressLength {
			return NodeAddress{}, fmt.Errorf("%w: %q", ErrMalformedAddress, s)
		}
		high, low = s[:AddressLength], s[AddressLength:]
	}
	n := NodeAddress{High: Address(high), Low: Address(low)}
	if err := n.Validate(); err != nil {
		return NodeAddress{}, err
	}
	return n, nil
}
