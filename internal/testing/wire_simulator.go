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
	"fmt"
	"slices"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

// VirtualModule simulates a DigiMesh module at the wire protocol level.
// It implements io.ReadWriter to plug directly into transport layer tests.
//
// The simulator follows the module's API frame rules:
// - Frame validation (length, checksum, escaping per the AP register)
// - AT command responses for local and remote registers
// - Transmit status for unicast, broadcast and explicit transmissions
// - Trace route hop reports and link test results
// Frame ID 0 suppresses the response, as on a real module.
type VirtualModule struct {
	registers           map[string][]byte
	nodes               []*VirtualNode
	requests            [][]byte
	rxBuffer            bytes.Buffer
	txBuffer            bytes.Buffer
	mu                  syncutil.Mutex
	injectChecksumError bool
	dropNextResponse    bool
}

// NewVirtualModule creates a module at TestLocalAddress in API mode 2 with
// no nodes in range.
func NewVirtualModule() *VirtualModule {
	v := &VirtualModule{}
	v.resetRegisters()
	return v
}

func (v *VirtualModule) resetRegisters() {
	v.registers = map[string][]byte{
		"ID": {0x7F, 0xFF},
		"CE": {0x00},
		"BH": {0x00},
		"NT": {0x82},
		"SH": slices.Clone(TestLocalAddress[:4]),
		"SL": slices.Clone(TestLocalAddress[4:]),
		"DH": {0x00},
		"DL": {0x00},
		"AP": {0x02},
		"AO": {0x00},
		"NO": {0x00},
		"NI": []byte("LOCAL"),
		"GD": {0x00},
		"EA": {0x00},
		"TR": {0x00},
		"DB": {0x28},
	}
}

// Write implements io.Writer - receives frames from the host.
func (v *VirtualModule) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	v.processReceivedData()
	return len(data), nil
}

// Read implements io.Reader - returns pending frames to the host.
func (v *VirtualModule) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}

	n, err := v.txBuffer.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// AddNode puts a remote node in range.
func (v *VirtualModule) AddNode(node *VirtualNode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nodes = append(v.nodes, node)
}

// Register returns a local register value.
func (v *VirtualModule) Register(cmd string) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.registers[cmd]
	return slices.Clone(value), ok
}

// SetRegister stores a local register value without any frame exchange.
func (v *VirtualModule) SetRegister(cmd string, value []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.registers[cmd] = slices.Clone(value)
}

// Escaped reports whether the module currently uses API mode 2.
func (v *VirtualModule) Escaped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.escaped()
}

func (v *VirtualModule) escaped() bool {
	ap := v.registers["AP"]
	return len(ap) == 1 && ap[0] == 0x02
}

// Requests returns the frame data of every valid frame received, oldest first.
func (v *VirtualModule) Requests() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.requests))
	for i, r := range v.requests {
		out[i] = slices.Clone(r)
	}
	return out
}

// QueueFrame sends an unsolicited frame to the host in the current API mode.
func (v *VirtualModule) QueueFrame(frameData []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sendFrame(frameData)
}

// InjectNoise sends raw bytes to the host.
func (v *VirtualModule) InjectNoise(noise []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txBuffer.Write(noise)
}

// InjectChecksumError causes the next response to have an invalid checksum.
func (v *VirtualModule) InjectChecksumError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectChecksumError = true
}

// DropNextResponse causes the simulator to stay silent for the next request.
func (v *VirtualModule) DropNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextResponse = true
}

// HasPendingResponse returns true if the simulator has data waiting to be read.
func (v *VirtualModule) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// Reset clears buffers, injected faults and recorded requests, and restores
// the default registers. Nodes stay in range.
func (v *VirtualModule) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Reset()
	v.txBuffer.Reset()
	v.requests = nil
	v.injectChecksumError = false
	v.dropNextResponse = false
	v.resetRegisters()
}

// processReceivedData parses frames from the receive buffer and answers them.
func (v *VirtualModule) processReceivedData() {
	for {
		data := v.rxBuffer.Bytes()

		start := bytes.IndexByte(data, frame.StartDelimiter)
		if start < 0 {
			v.rxBuffer.Reset()
			return
		}
		if start > 0 {
			v.rxBuffer.Next(start)
			data = v.rxBuffer.Bytes()
		}

		raw, consumed, complete := extractFrame(data, v.escaped())
		if !complete {
			return
		}
		v.rxBuffer.Next(consumed)

		if err := frame.Validate(raw); err != nil {
			continue
		}
		frameData := frame.Data(raw)
		v.requests = append(v.requests, slices.Clone(frameData))
		v.processRequest(frameData)
	}
}

// extractFrame unescapes bytes after the start delimiter until the declared
// frame is complete. consumed counts the wire bytes used.
func extractFrame(data []byte, escaped bool) (raw []byte, consumed int, complete bool) {
	raw = make([]byte, 0, len(data))
	raw = append(raw, data[0])

	for i := 1; i < len(data); i++ {
		b := data[i]
		if b == frame.StartDelimiter {
			// A new frame starts before this one completed.
			return raw, i, true
		}
		if escaped && b == frame.EscapeByte {
			if i+1 >= len(data) {
				return nil, 0, false
			}
			i++
			b = data[i] ^ frame.EscapeXOR
		}
		raw = append(raw, b)

		if total, ok := frame.ExpectedLength(raw); ok && len(raw) == total {
			return raw, i + 1, true
		}
	}
	return nil, 0, false
}

func (v *VirtualModule) processRequest(frameData []byte) {
	if len(frameData) == 0 {
		return
	}
	if v.dropNextResponse {
		v.dropNextResponse = false
		return
	}

	switch frameData[0] {
	case FrameLocalAT, FrameQueuedAT:
		v.handleLocalAT(frameData[1:])
	case FrameRemoteAT:
		v.handleRemoteAT(frameData[1:])
	case FrameTransmitRequest:
		v.handleTransmit(frameData[1:])
	case FrameExplicitTransmit:
		v.handleExplicit(frameData[1:])
	}
}

func (v *VirtualModule) handleLocalAT(params []byte) {
	if len(params) < 3 {
		return
	}
	frameID, cmd, value := params[0], string(params[1:3]), params[3:]

	var responses [][]byte
	switch {
	case cmd == "ND" || cmd == "FN":
		for _, node := range v.nodes {
			if node.Present() {
				responses = append(responses, BuildATResponse(frameID, cmd, StatusOK, node.identification()))
			}
		}
		responses = append(responses, BuildATResponse(frameID, cmd, StatusOK, nil))
	case len(value) > 0:
		status := v.setRegister(cmd, value)
		responses = append(responses, BuildATResponse(frameID, cmd, status, nil))
	default:
		current, ok := v.registers[cmd]
		if !ok {
			responses = append(responses, BuildATResponse(frameID, cmd, StatusInvalidCommand, nil))
			break
		}
		responses = append(responses, BuildATResponse(frameID, cmd, StatusOK, current))
	}

	if frameID == 0 {
		return
	}
	for _, r := range responses {
		v.sendFrame(r)
	}
}

func (v *VirtualModule) setRegister(cmd string, value []byte) byte {
	if _, ok := v.registers[cmd]; !ok {
		return StatusInvalidCommand
	}
	if cmd == "AP" && (len(value) != 1 || value[0] < 1 || value[0] > 2) {
		return StatusInvalidParameter
	}
	v.registers[cmd] = slices.Clone(value)
	return StatusOK
}

func (v *VirtualModule) handleRemoteAT(params []byte) {
	// frame ID, destination, reserved, options, command
	if len(params) < 14 {
		return
	}
	frameID := params[0]
	var dest [8]byte
	copy(dest[:], params[1:9])
	cmd, value := string(params[12:14]), params[14:]

	node := v.findNode(dest[:])
	var response []byte
	switch {
	case node == nil:
		response = BuildRemoteATResponse(frameID, dest, cmd, StatusTxFailure, nil)
	case len(value) > 0:
		node.SetRegister(cmd, value)
		response = BuildRemoteATResponse(frameID, dest, cmd, StatusOK, nil)
	case cmd == "FN":
		response = BuildRemoteATResponse(frameID, dest, cmd, StatusOK, v.identification())
	default:
		current, ok := node.Register(cmd)
		status := byte(StatusOK)
		if !ok {
			status = StatusInvalidCommand
		}
		response = BuildRemoteATResponse(frameID, dest, cmd, status, current)
	}

	if frameID != 0 {
		v.sendFrame(response)
	}
}

func (v *VirtualModule) handleTransmit(params []byte) {
	// frame ID, destination, reserved, radius, options, data
	if len(params) < 13 {
		return
	}
	frameID := params[0]
	var dest [8]byte
	copy(dest[:], params[1:9])
	options, data := params[12], params[13:]

	if dest == TestBroadcastAddress {
		for _, node := range v.nodes {
			if node.Present() {
				node.deliver(data)
			}
		}
		v.transmitStatus(frameID, DeliverySuccess)
		return
	}

	node := v.findNode(dest[:])
	if node == nil {
		v.transmitStatus(frameID, DeliveryRouteNotFound)
		return
	}
	node.deliver(data)
	v.transmitStatus(frameID, DeliverySuccess)

	if options&OptionTraceRoute != 0 {
		v.sendFrame(BuildRouteInformation(dest, TestLocalAddress, TestLocalAddress, dest))
	}
	if node.Echo {
		v.sendFrame(BuildReceivePacket(dest, data))
	}
}

func (v *VirtualModule) handleExplicit(params []byte) {
	// frame ID, destination, reserved, endpoints, cluster, profile, radius, options, data
	if len(params) < 19 {
		return
	}
	frameID := params[0]
	var sender [8]byte
	copy(sender[:], params[1:9])
	cluster := uint16(params[13])<<8 | uint16(params[14])
	data := params[19:]

	node := v.findNode(sender[:])
	if node == nil {
		v.transmitStatus(frameID, DeliveryRouteNotFound)
		return
	}
	v.transmitStatus(frameID, DeliverySuccess)

	if cluster != ClusterLinkTest || len(data) != 12 {
		node.deliver(data)
		return
	}
	var target [8]byte
	copy(target[:], data[:8])
	size := uint16(data[8])<<8 | uint16(data[9])
	iterations := uint16(data[10])<<8 | uint16(data[11])
	v.sendFrame(BuildExplicitRx(sender, ClusterLinkTestResult,
		BuildLinkTestResult(target, size, iterations, node.RSSI)))
}

func (v *VirtualModule) transmitStatus(frameID, delivery byte) {
	counter := "GD"
	if delivery != DeliverySuccess {
		counter = "TR"
	}
	var count byte
	if c := v.registers[counter]; len(c) > 0 {
		count = c[len(c)-1]
	}
	v.registers[counter] = []byte{count + 1}

	if frameID != 0 {
		v.sendFrame(BuildTransmitStatus(frameID, delivery))
	}
}

func (v *VirtualModule) findNode(addr []byte) *VirtualNode {
	for _, node := range v.nodes {
		if node.is(addr) && node.Present() {
			return node
		}
	}
	return nil
}

func (v *VirtualModule) identification() []byte {
	out := make([]byte, 0, 16)
	out = append(out, reservedUnknown>>8, reservedUnknown&0xFF)
	out = append(out, TestLocalAddress[:]...)
	out = append(out, v.registers["NI"]...)
	return append(out, 0x00)
}

// sendFrame encodes a response in the current API mode and queues it.
func (v *VirtualModule) sendFrame(frameData []byte) {
	raw := BuildFrame(frameData, false)
	if v.injectChecksumError {
		raw[len(raw)-1] ^= 0xFF
		v.injectChecksumError = false
	}
	if v.escaped() {
		raw = frame.Escape(raw)
	}
	v.txBuffer.Write(raw)
}
