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
	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

// Frame types, mirroring the root package to avoid an import cycle
const (
	FrameLocalAT          = 0x08
	FrameQueuedAT         = 0x09
	FrameTransmitRequest  = 0x10
	FrameExplicitTransmit = 0x11
	FrameRemoteAT         = 0x17
	FrameATResponse       = 0x88
	FrameTransmitStatus   = 0x8B
	FrameRouteInformation = 0x8D
	FrameReceivePacket    = 0x90
	FrameExplicitRx       = 0x91
	FrameRemoteATResponse = 0x97
)

// Command status values
const (
	StatusOK               = 0x00
	StatusError            = 0x01
	StatusInvalidCommand   = 0x02
	StatusInvalidParameter = 0x03
	StatusTxFailure        = 0x04
)

// Delivery status values
const (
	DeliverySuccess       = 0x00
	DeliveryRouteNotFound = 0x25
)

// Link test constants
const (
	EndpointDigiDevice    = 0xE6
	ClusterLinkTest       = 0x0014
	ClusterLinkTestResult = 0x0094
	ProfileDigi           = 0xC105
	OptionTraceRoute      = 0x08
	RouteEventTraceRoute  = 0x12
	reservedUnknown       = 0xFFFE
	routeInformationBytes = 0x2B
)

// Test addresses shared by the simulator tests
var (
	// TestLocalAddress is the SH/SL of a VirtualModule
	TestLocalAddress = [8]byte{0x00, 0x13, 0xA2, 0x00, 0x40, 0xA1, 0xB2, 0xC3}

	// TestRemoteAddress is a typical remote node
	TestRemoteAddress = [8]byte{0x00, 0x13, 0xA2, 0x00, 0x40, 0xD4, 0xE5, 0xF6}

	// TestBroadcastAddress reaches every node
	TestBroadcastAddress = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}
)

// BuildFrame wraps frame data into a complete frame
func BuildFrame(frameData []byte, escaped bool) []byte {
	raw, err := frame.Build(frameData, escaped)
	if err != nil {
		panic(err)
	}
	return raw
}

// BuildATResponse creates AT command response frame data
func BuildATResponse(frameID byte, cmd string, status byte, data []byte) []byte {
	out := make([]byte, 0, 5+len(data))
	out = append(out, FrameATResponse, frameID, cmd[0], cmd[1], status)
	return append(out, data...)
}

// BuildRemoteATResponse creates remote AT command response frame data
func BuildRemoteATResponse(frameID byte, source [8]byte, cmd string, status byte, data []byte) []byte {
	out := make([]byte, 0, 15+len(data))
	out = append(out, FrameRemoteATResponse, frameID)
	out = append(out, source[:]...)
	out = append(out, reservedUnknown>>8, reservedUnknown&0xFF, cmd[0], cmd[1], status)
	return append(out, data...)
}

// BuildTransmitStatus creates transmit status frame data
func BuildTransmitStatus(frameID, delivery byte) []byte {
	return []byte{FrameTransmitStatus, frameID, reservedUnknown >> 8, reservedUnknown & 0xFF, 0x00, delivery, 0x00}
}

// BuildReceivePacket creates receive packet frame data
func BuildReceivePacket(source [8]byte, data []byte) []byte {
	out := make([]byte, 0, 12+len(data))
	out = append(out, FrameReceivePacket)
	out = append(out, source[:]...)
	out = append(out, reservedUnknown>>8, reservedUnknown&0xFF, 0x00)
	return append(out, data...)
}

// BuildExplicitRx creates explicit rx indicator frame data
func BuildExplicitRx(source [8]byte, cluster uint16, data []byte) []byte {
	out := make([]byte, 0, 18+len(data))
	out = append(out, FrameExplicitRx)
	out = append(out, source[:]...)
	out = append(out, reservedUnknown>>8, reservedUnknown&0xFF,
		EndpointDigiDevice, EndpointDigiDevice,
		byte(cluster>>8), byte(cluster),
		ProfileDigi>>8, ProfileDigi&0xFF,
		0x00)
	return append(out, data...)
}

// BuildRouteInformation creates a trace route hop report
func BuildRouteInformation(dest, source, responder, receiver [8]byte) []byte {
	out := make([]byte, 0, 42)
	out = append(out, FrameRouteInformation, RouteEventTraceRoute, routeInformationBytes,
		0x00, 0x00, 0x00, 0x00, // timestamp
		0x00, 0x00, 0x00)
	out = append(out, dest[:]...)
	out = append(out, source[:]...)
	out = append(out, responder[:]...)
	return append(out, receiver[:]...)
}

// BuildLinkTestResult creates the result payload of a link test. Every
// iteration succeeds with the given RSSI.
func BuildLinkTestResult(dest [8]byte, size, iterations uint16, rssi byte) []byte {
	out := make([]byte, 0, 21)
	out = append(out, dest[:]...)
	out = append(out,
		byte(size>>8), byte(size),
		byte(iterations>>8), byte(iterations),
		byte(iterations>>8), byte(iterations), // success
		0x00, 0x00, // retries
		0x00, // result
		0x00, // max retries
		rssi, rssi, rssi)
	return out
}
