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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

func localAT(frameID byte, cmd string, value ...byte) []byte {
	return append([]byte{FrameLocalAT, frameID, cmd[0], cmd[1]}, value...)
}

func remoteAT(frameID byte, dest [8]byte, cmd string, value ...byte) []byte {
	out := append([]byte{FrameRemoteAT, frameID}, dest[:]...)
	out = append(out, 0xFF, 0xFE, 0x02, cmd[0], cmd[1])
	return append(out, value...)
}

func transmit(frameID byte, dest [8]byte, options byte, data ...byte) []byte {
	out := append([]byte{FrameTransmitRequest, frameID}, dest[:]...)
	out = append(out, 0xFF, 0xFE, 0x00, options)
	return append(out, data...)
}

// send writes frame data to the simulator in its current mode.
func send(t *testing.T, sim *VirtualModule, frameData []byte) {
	t.Helper()
	_, err := sim.Write(BuildFrame(frameData, sim.Escaped()))
	require.NoError(t, err)
}

// responses reads everything pending and returns the frame data of each
// valid frame.
func responses(t *testing.T, sim *VirtualModule) [][]byte {
	t.Helper()

	buf := make([]byte, 4096)
	n, err := sim.Read(buf)
	require.NoError(t, err)
	data := buf[:n]

	var out [][]byte
	for len(data) > 0 {
		require.Equal(t, byte(frame.StartDelimiter), data[0], "stray byte in %X", data)
		raw, consumed, complete := extractFrame(data, sim.Escaped())
		require.True(t, complete, "incomplete frame in %X", data)
		require.NoError(t, frame.Validate(raw))
		out = append(out, frame.Data(raw))
		data = data[consumed:]
	}
	return out
}

func TestVirtualModule_LocalATQuery(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	send(t, sim, localAT(0x52, "ID"))

	got := responses(t, sim)
	require.Len(t, got, 1)
	assert.Equal(t, BuildATResponse(0x52, "ID", StatusOK, []byte{0x7F, 0xFF}), got[0])
	assert.Equal(t, [][]byte{localAT(0x52, "ID")}, sim.Requests())
}

func TestVirtualModule_LocalATSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cmd    string
		value  []byte
		status byte
		stored bool
	}{
		{name: "network id", cmd: "ID", value: []byte{0x11, 0x13}, status: StatusOK, stored: true},
		{name: "unknown register", cmd: "ZZ", value: []byte{0x01}, status: StatusInvalidCommand},
		{name: "api mode out of range", cmd: "AP", value: []byte{0x05}, status: StatusInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sim := NewVirtualModule()
			send(t, sim, localAT(0x01, tt.cmd, tt.value...))

			got := responses(t, sim)
			require.Len(t, got, 1)
			assert.Equal(t, BuildATResponse(0x01, tt.cmd, tt.status, nil), got[0])

			v, _ := sim.Register(tt.cmd)
			if tt.stored {
				assert.Equal(t, tt.value, v)
			} else {
				assert.NotEqual(t, tt.value, v)
			}
		})
	}
}

func TestVirtualModule_APIModeSwitch(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	require.True(t, sim.Escaped())

	send(t, sim, localAT(0x01, "AP", 0x01))
	assert.False(t, sim.Escaped())
	got := responses(t, sim)
	require.Len(t, got, 1)
	assert.Equal(t, BuildATResponse(0x01, "AP", StatusOK, nil), got[0])

	// Unescaped from now on: 0x13 travels raw.
	send(t, sim, remoteAT(0x02, TestRemoteAddress, "CE"))
	got = responses(t, sim)
	require.Len(t, got, 1)
	assert.Equal(t, BuildRemoteATResponse(0x02, TestRemoteAddress, "CE", StatusTxFailure, nil), got[0])
}

func TestVirtualModule_FrameIDZeroSuppressesResponse(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	send(t, sim, localAT(0x00, "ID", 0x12, 0x34))

	assert.False(t, sim.HasPendingResponse())
	v, _ := sim.Register("ID")
	assert.Equal(t, []byte{0x12, 0x34}, v)
}

func TestVirtualModule_RemoteAT(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	node := NewVirtualNode(TestRemoteAddress)
	sim.AddNode(node)

	send(t, sim, remoteAT(0x01, TestRemoteAddress, "CE", 0x02))
	send(t, sim, remoteAT(0x01, TestRemoteAddress, "CE"))
	send(t, sim, remoteAT(0x01, TestRemoteAddress, "QQ"))

	got := responses(t, sim)
	require.Len(t, got, 3)
	assert.Equal(t, BuildRemoteATResponse(0x01, TestRemoteAddress, "CE", StatusOK, nil), got[0])
	assert.Equal(t, BuildRemoteATResponse(0x01, TestRemoteAddress, "CE", StatusOK, []byte{0x02}), got[1])
	assert.Equal(t, BuildRemoteATResponse(0x01, TestRemoteAddress, "QQ", StatusInvalidCommand, nil), got[2])

	node.Remove()
	send(t, sim, remoteAT(0x01, TestRemoteAddress, "CE"))
	got = responses(t, sim)
	require.Len(t, got, 1)
	assert.Equal(t, byte(StatusTxFailure), got[0][len(got[0])-1])
}

func TestVirtualModule_Transmit(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	node := NewVirtualNode(TestRemoteAddress)
	sim.AddNode(node)

	send(t, sim, transmit(0x01, TestRemoteAddress, 0x00, 'h', 'i'))
	send(t, sim, transmit(0x02, TestLocalAddress, 0x00, 'x'))

	got := responses(t, sim)
	require.Len(t, got, 2)
	assert.Equal(t, BuildTransmitStatus(0x01, DeliverySuccess), got[0])
	assert.Equal(t, BuildTransmitStatus(0x02, DeliveryRouteNotFound), got[1])
	assert.Equal(t, [][]byte{[]byte("hi")}, node.Received())

	gd, _ := sim.Register("GD")
	tr, _ := sim.Register("TR")
	assert.Equal(t, []byte{0x01}, gd)
	assert.Equal(t, []byte{0x01}, tr)
}

func TestVirtualModule_Broadcast(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	near := NewVirtualNode(TestRemoteAddress)
	far := NewVirtualNode([8]byte{0x00, 0x13, 0xA2, 0x00, 0x40, 0x00, 0x00, 0x09})
	far.Remove()
	sim.AddNode(near)
	sim.AddNode(far)

	send(t, sim, transmit(0x01, TestBroadcastAddress, 0x00, 0x7E, 0x7D))

	got := responses(t, sim)
	require.Len(t, got, 1)
	assert.Equal(t, BuildTransmitStatus(0x01, DeliverySuccess), got[0])
	assert.Equal(t, [][]byte{{0x7E, 0x7D}}, near.Received())
	assert.Empty(t, far.Received())
}

func TestVirtualModule_TraceRouteAndEcho(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	node := NewVirtualNode(TestRemoteAddress)
	node.Echo = true
	sim.AddNode(node)

	send(t, sim, transmit(0x01, TestRemoteAddress, OptionTraceRoute, 1, 2, 3))

	got := responses(t, sim)
	require.Len(t, got, 3)
	assert.Equal(t, BuildTransmitStatus(0x01, DeliverySuccess), got[0])
	assert.Equal(t, BuildRouteInformation(TestRemoteAddress, TestLocalAddress, TestLocalAddress, TestRemoteAddress), got[1])
	assert.Len(t, got[1], 42)
	assert.Equal(t, BuildReceivePacket(TestRemoteAddress, []byte{1, 2, 3}), got[2])
}

func TestVirtualModule_LinkTest(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	sim.AddNode(NewVirtualNode(TestRemoteAddress))

	req := append([]byte{FrameExplicitTransmit, 0x01}, TestRemoteAddress[:]...)
	req = append(req, 0xFF, 0xFE, EndpointDigiDevice, EndpointDigiDevice, 0x00, 0x14, 0xC1, 0x05, 0x00, 0x00)
	req = append(req, TestLocalAddress[:]...)
	req = append(req, 0x00, 0x20, 0x00, 0x0A)
	send(t, sim, req)

	got := responses(t, sim)
	require.Len(t, got, 2)
	assert.Equal(t, BuildTransmitStatus(0x01, DeliverySuccess), got[0])
	want := BuildExplicitRx(TestRemoteAddress, ClusterLinkTestResult,
		BuildLinkTestResult(TestLocalAddress, 0x20, 10, 0x30))
	assert.Equal(t, want, got[1])
}

func TestVirtualModule_NodeDiscovery(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	node := NewVirtualNode(TestRemoteAddress)
	sim.AddNode(node)

	send(t, sim, localAT(0x52, "ND"))

	got := responses(t, sim)
	require.Len(t, got, 2)
	assert.Equal(t, BuildATResponse(0x52, "ND", StatusOK, node.identification()), got[0])
	assert.Equal(t, BuildATResponse(0x52, "ND", StatusOK, nil), got[1])
}

func TestVirtualModule_SplitAndNoisyWrites(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	raw := BuildFrame(remoteAT(0x01, TestRemoteAddress, "SH"), true)

	_, err := sim.Write([]byte{0x00, 0x55})
	require.NoError(t, err)
	for _, b := range raw {
		_, err := sim.Write([]byte{b})
		require.NoError(t, err)
	}

	got := responses(t, sim)
	require.Len(t, got, 1)
	assert.Len(t, sim.Requests(), 1)
}

func TestVirtualModule_IgnoresCorruptRequests(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	bad := BuildFrame(localAT(0x52, "ID"), true)
	bad[len(bad)-1] ^= 0x01
	_, err := sim.Write(bad)
	require.NoError(t, err)

	_, err = sim.Write([]byte{0x7E, 0x00, 0x00, 0xFF})
	require.NoError(t, err)

	assert.False(t, sim.HasPendingResponse())
	assert.Len(t, sim.Requests(), 1, "only the empty frame passes validation")
}

func TestVirtualModule_FaultInjection(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	sim.InjectChecksumError()
	send(t, sim, localAT(0x52, "ID"))

	buf := make([]byte, 64)
	n, err := sim.Read(buf)
	require.NoError(t, err)
	require.ErrorIs(t, frame.Validate(buf[:n]), frame.ErrChecksumMismatch)

	sim.DropNextResponse()
	send(t, sim, localAT(0x52, "ID"))
	assert.False(t, sim.HasPendingResponse())

	send(t, sim, localAT(0x52, "ID"))
	assert.Len(t, responses(t, sim), 1)
}

func TestVirtualModule_QueueFrameAndNoise(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	sim.InjectNoise([]byte{0xAA, 0xBB})
	sim.QueueFrame(BuildReceivePacket(TestRemoteAddress, []byte{0x11}))

	buf := make([]byte, 64)
	n, err := sim.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[:2])

	raw, _, complete := extractFrame(buf[2:n], true)
	require.True(t, complete)
	require.NoError(t, frame.Validate(raw))
	assert.Equal(t, BuildReceivePacket(TestRemoteAddress, []byte{0x11}), frame.Data(raw))
}

func TestVirtualModule_Reset(t *testing.T) {
	t.Parallel()

	sim := NewVirtualModule()
	sim.SetRegister("AP", []byte{0x01})
	send(t, sim, localAT(0x52, "ID"))
	sim.Reset()

	assert.True(t, sim.Escaped())
	assert.False(t, sim.HasPendingResponse())
	assert.Empty(t, sim.Requests())
}
