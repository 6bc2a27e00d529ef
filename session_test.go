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
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-digimesh/internal/frame"
)

func newTestSession(t *testing.T, opts ...Option) (*Session, *MockTransport) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.WriteRetry = nil
	mock := NewMockTransport()
	s, err := New(mock, append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return s, mock
}

// pollFrames queues msgs, encoded for the session's current mode, and polls once.
func pollFrames(t *testing.T, s *Session, mock *MockTransport, msgs ...Message) []Decoded {
	t.Helper()

	var chunk []byte
	for _, m := range msgs {
		chunk = append(chunk, mustEncode(t, m, s.escaped())...)
	}
	mock.QueueRead(chunk)
	frames, err := s.Poll(context.Background())
	require.NoError(t, err)
	return frames
}

func localAddressFrames() []Message {
	return []Message{
		&ATResponse{FrameID: 0x52, Command: CmdSerialHigh, Data: []byte{0x00, 0x13, 0xA2, 0x00}},
		&ATResponse{FrameID: 0x52, Command: CmdSerialLow, Data: []byte{0x40, 0xA1, 0xB2, 0xC3}},
	}
}

type recordingObserver struct {
	sent     []FrameType
	received []Decoded
	rejected []Rejection
	diag     []Diagnostics
}

func (o *recordingObserver) FrameSent(t FrameType)            { o.sent = append(o.sent, t) }
func (o *recordingObserver) FrameReceived(d Decoded)          { o.received = append(o.received, d) }
func (o *recordingObserver) FrameRejected(r Rejection)        { o.rejected = append(o.rejected, r) }
func (o *recordingObserver) DiagnosticsUpdated(d Diagnostics) { o.diag = append(o.diag, d) }

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	_, err = New(NewMockTransport(), WithConfig(nil))
	require.ErrorIs(t, err, ErrInvalidConfig)

	bad := DefaultConfig()
	bad.APIMode = 0
	_, err = New(NewMockTransport(), WithConfig(bad))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_WrapsTransportWithRetry(t *testing.T) {
	t.Parallel()

	s, err := New(NewMockTransport())
	require.NoError(t, err)
	assert.IsType(t, &TransportWithRetry{}, s.Transport())

	s, _ = newTestSession(t)
	assert.IsType(t, &MockTransport{}, s.Transport())
}

func TestSession_GetLocalRegisterID(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	msg, err := s.GetLocalRegister(context.Background(), CmdNetworkID)
	require.NoError(t, err)

	assert.Equal(t, CmdNetworkID, msg.Command)
	require.Equal(t, 1, mock.WriteCount())
	assert.Equal(t, []byte{0x7E, 0x00, 0x04, 0x08, 0x52, 0x49, 0x44, 0x18}, mock.Writes()[0])

	_, known := s.Register(CmdNetworkID)
	assert.False(t, known, "a query does not set the register")
}

func TestSession_SetLocalRegisterRecordsValue(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	_, err := s.SetLocalRegister(context.Background(), CmdNetworkID, []byte{0x12, 0x34})
	require.NoError(t, err)

	want := mustEncode(t, &LocalATCommand{FrameID: 0x52, Command: CmdNetworkID, Value: []byte{0x12, 0x34}}, true)
	assert.Equal(t, [][]byte{want}, mock.Writes())

	v, ok := s.Register(CmdNetworkID)
	require.True(t, ok)
	assert.Equal(t, []byte{0x12, 0x34}, v)
}

func TestSession_DeclinesBeforeWriting(t *testing.T) {
	t.Parallel()

	malformed := NodeAddress{High: "gg000000", Low: "00000000"}

	tests := []struct {
		call    func(*Session) error
		wantErr error
		name    string
	}{
		{
			name: "remote set with malformed address",
			call: func(s *Session) error {
				_, err := s.SetRemoteRegister(context.Background(), malformed, CmdNodeType, []byte{1})
				return err
			},
			wantErr: ErrMalformedAddress,
		},
		{
			name: "send data with malformed address",
			call: func(s *Session) error {
				_, err := s.SendData(context.Background(), malformed, []byte("hi"))
				return err
			},
			wantErr: ErrMalformedAddress,
		},
		{
			name: "one character command",
			call: func(s *Session) error {
				_, err := s.GetLocalRegister(context.Background(), "I")
				return err
			},
			wantErr: ErrInvalidCommand,
		},
		{
			name: "oversized payload",
			call: func(s *Session) error {
				_, err := s.Broadcast(context.Background(), make([]byte, frame.MaxFrameDataLength))
				return err
			},
			wantErr: ErrInvalidParameter,
		},
		{
			name: "find neighbors on broadcast",
			call: func(s *Session) error {
				_, err := s.FindNeighbors(context.Background(), BroadcastAddress)
				return err
			},
			wantErr: ErrOperationNotAllowed,
		},
		{
			name: "trace route to broadcast",
			call: func(s *Session) error {
				_, err := s.TraceRoute(context.Background(), BroadcastAddress)
				return err
			},
			wantErr: ErrOperationNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, mock := newTestSession(t)
			err := tt.call(s)

			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsDeclined(err))
			assert.False(t, IsFatal(err))
			assert.Equal(t, 0, mock.WriteCount())
			_, hasDest := s.registers.Destination()
			assert.False(t, hasDest, "declined requests leave DH/DL alone")
		})
	}
}

func TestSession_DeclinesLocalTargets(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	pollFrames(t, s, mock, localAddressFrames()...)

	local, ok := s.LocalAddress()
	require.True(t, ok)
	assert.Equal(t, testNode, local)

	_, err := s.FindNeighbors(context.Background(), testNode)
	require.ErrorIs(t, err, ErrOperationNotAllowed)
	_, err = s.TraceRoute(context.Background(), testNode)
	require.ErrorIs(t, err, ErrOperationNotAllowed)
	assert.Equal(t, 0, mock.WriteCount())

	_, err = s.FindNeighbors(context.Background(), testRemote)
	require.NoError(t, err)
	want := NewRemoteATCommand(testRemote, CmdFindNeighbors, nil)
	assert.Equal(t, [][]byte{mustEncode(t, want, true)}, mock.Writes())
}

func TestSession_SendDataSetsDestination(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	msg, err := s.SendData(context.Background(), testRemote, []byte("ping"))
	require.NoError(t, err)

	assert.Equal(t, [][]byte{mustEncode(t, msg, true)}, mock.Writes())
	assert.Equal(t, ReservedUnknown, msg.Reserved)

	dest, ok := s.registers.Destination()
	require.True(t, ok)
	assert.Equal(t, testRemote, dest)

	dh, _ := s.Register(CmdDestHigh)
	dl, _ := s.Register(CmdDestLow)
	assert.Equal(t, []byte{0x00, 0x13, 0xA2, 0x00}, dh)
	assert.Equal(t, []byte{0x40, 0xD4, 0xE5, 0xF6}, dl)
}

func TestSession_TraceRoute(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	msg, err := s.TraceRoute(context.Background(), testRemote)
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3}, msg.Data)
	assert.Equal(t, OptionTraceRoute, msg.Options)
	assert.Equal(t, ReservedTraceRoute, msg.Reserved)
	assert.Equal(t, [][]byte{mustEncode(t, msg, true)}, mock.Writes())
}

func TestSession_LinkQualityTest(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	msg, err := s.LinkQualityTest(context.Background(), testNode, testRemote, 0x20, 100)
	require.NoError(t, err)

	assert.Equal(t, testNode, msg.Destination)
	assert.Equal(t, EndpointDigiDevice, msg.SourceEndpoint)
	assert.Equal(t, EndpointDigiDevice, msg.DestEndpoint)
	assert.Equal(t, ClusterLinkTest, msg.ClusterID)
	assert.Equal(t, ProfileDigi, msg.ProfileID)
	assert.Equal(t, []byte{
		0x00, 0x13, 0xA2, 0x00, 0x40, 0xD4, 0xE5, 0xF6,
		0x00, 0x20,
		0x00, 0x64,
	}, msg.Data)
	assert.Equal(t, [][]byte{mustEncode(t, msg, true)}, mock.Writes())

	dest, _ := s.registers.Destination()
	assert.Equal(t, testNode, dest)
}

func TestSession_LinkQualityTestBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr    error
		name       string
		sender     NodeAddress
		dest       NodeAddress
		iterations uint16
	}{
		{name: "zero iterations", sender: testNode, dest: testRemote, iterations: 0, wantErr: ErrInvalidParameter},
		{name: "too many iterations", sender: testNode, dest: testRemote, iterations: 4001, wantErr: ErrInvalidParameter},
		{name: "broadcast sender", sender: BroadcastAddress, dest: testRemote, iterations: 1, wantErr: ErrOperationNotAllowed},
		{name: "broadcast dest", sender: testNode, dest: BroadcastAddress, iterations: 1, wantErr: ErrOperationNotAllowed},
		{
			name: "malformed dest", sender: testNode, dest: NodeAddress{High: "x", Low: "y"},
			iterations: 1, wantErr: ErrMalformedAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, mock := newTestSession(t)
			_, err := s.LinkQualityTest(context.Background(), tt.sender, tt.dest, DefaultLinkTestSize, tt.iterations)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsDeclined(err))
			assert.Equal(t, 0, mock.WriteCount())
		})
	}

	s, mock := newTestSession(t)
	_, err := s.LinkQualityTest(context.Background(), testNode, testRemote, 1, MaxLinkTestIterations)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.WriteCount())
}

func TestSession_Configure(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	require.NoError(t, s.Configure(context.Background()))

	writes := mock.Writes()
	require.Len(t, writes, 4+len(ConfigureQueries))

	setID := &LocalATCommand{FrameID: 0x52, Command: CmdNetworkID, Value: []byte{0x7F, 0xFF}}
	assert.Equal(t, mustEncode(t, setID, true), writes[0])
	setNO := &LocalATCommand{FrameID: 0x52, Command: CmdDiscoveryOptions, Value: []byte{0x04}}
	assert.Equal(t, mustEncode(t, setNO, true), writes[3])

	for i, cmd := range ConfigureQueries {
		query := &LocalATCommand{FrameID: 0x52, Command: cmd}
		assert.Equal(t, mustEncode(t, query, true), writes[4+i], "query %s", cmd)
	}

	regs := s.Registers()
	assert.Equal(t, []byte{0x02}, regs[CmdAPIMode])
	assert.Equal(t, []byte{0x00}, regs[CmdAPIOutput])
}

func TestSession_ConfigureUnescaped(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WriteRetry = nil
	cfg.APIMode = APIModeUnescaped
	cfg.NetworkID = 0x1311

	mock := NewMockTransport()
	s, err := New(mock, WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, s.Configure(context.Background()))

	setID := &LocalATCommand{FrameID: 0x52, Command: CmdNetworkID, Value: []byte{0x13, 0x11}}
	assert.Equal(t, mustEncode(t, setID, false), mock.Writes()[0])
	assert.False(t, s.reassembler.Escaped())
}

func TestSession_PollUpdatesModel(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	var handled []Decoded
	s, mock := newTestSession(t, WithObserver(obs), WithFrameHandler(func(d Decoded) {
		handled = append(handled, d)
	}))

	msgs := append(localAddressFrames(),
		&ATResponse{FrameID: 0x52, Command: CmdLastRSSI, Data: []byte{0x28}},
		&TransmitStatus{FrameID: 0x01, Reserved: ReservedUnknown, Delivery: DeliverySuccess},
		&TransmitStatus{FrameID: 0x01, Reserved: ReservedUnknown, Delivery: 0x21},
		&RemoteATResponse{
			FrameID: 0x01, Source: testRemote, Reserved: ReservedUnknown,
			Command: CmdNodeType, Data: []byte{0x02},
		},
		&ReceivePacket{Source: testRemote, Reserved: ReservedUnknown, Data: []byte("hello")},
	)
	frames := pollFrames(t, s, mock, msgs...)
	require.Len(t, frames, len(msgs))
	assert.Equal(t, msgs, messagesOf(frames))

	local, ok := s.LocalAddress()
	require.True(t, ok)
	assert.Equal(t, testNode, local)

	diag := s.Diagnostics()
	assert.Equal(t, uint64(1), diag.GoodFrames)
	assert.Equal(t, uint64(1), diag.TransmitErrors)
	assert.True(t, diag.HasRSSI)
	assert.Equal(t, -40, diag.LastRSSI)
	_, stored := s.Register(CmdLastRSSI)
	assert.False(t, stored, "diagnostic responses do not become registers")

	ce, ok := s.RemoteRegister(testRemote, CmdNodeType)
	require.True(t, ok)
	assert.Equal(t, []byte{0x02}, ce)

	assert.Len(t, s.Inbox(), len(msgs))
	assert.Len(t, handled, len(msgs))
	assert.Len(t, obs.received, len(msgs))
	assert.Len(t, obs.diag, 3)
	assert.Equal(t, uint64(len(msgs)), s.Stats().Frames)

	taken := s.TakeInbox()
	assert.Len(t, taken, len(msgs))
	assert.Empty(t, s.Inbox())
}

func TestSession_PollIgnoresFailedResponses(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	pollFrames(t, s, mock,
		&ATResponse{FrameID: 0x52, Command: CmdNetworkID, Status: ATStatusError, Data: []byte{0x01}},
		&ATResponse{FrameID: 0x52, Command: CmdNodeDiscover, Data: []byte{0x00, 0x01}},
	)

	assert.Empty(t, s.Registers())
	assert.Len(t, s.Inbox(), 2)
}

func TestSession_APIModeChangeSwitchesEscaping(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	pollFrames(t, s, mock, &ATResponse{FrameID: 0x52, Command: CmdAPIMode, Data: []byte{APIModeUnescaped}})
	assert.False(t, s.reassembler.Escaped())

	_, err := s.SetLocalRegister(context.Background(), CmdNetworkID, []byte{0x11, 0x13})
	require.NoError(t, err)
	want := &LocalATCommand{FrameID: 0x52, Command: CmdNetworkID, Value: []byte{0x11, 0x13}}
	assert.Equal(t, mustEncode(t, want, false), mock.Writes()[0])

	// Raw 0x11 in the next inbound frame is data, not an escape.
	frames := pollFrames(t, s, mock, &ReceivePacket{Source: testRemote, Reserved: ReservedUnknown, Data: []byte{0x11}})
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Valid())

	_, err = s.SetLocalRegister(context.Background(), CmdAPIMode, []byte{APIModeEscaped})
	require.NoError(t, err)
	assert.True(t, s.reassembler.Escaped())
}

func TestSession_PollReportsRejections(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	var rejected []Rejection
	s, mock := newTestSession(t, WithObserver(obs), WithRejectHandler(func(r Rejection) {
		rejected = append(rejected, r)
	}))

	good := mustEncode(t, &TransmitStatus{FrameID: 0x01, Reserved: ReservedUnknown}, true)
	mock.QueueRead(append([]byte{0x7E, 0x00, 0x02, 0x8B, 0x01, 0x00}, good...))

	frames, err := s.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Len(t, rejected, 1)
	require.ErrorIs(t, rejected[0].Err, ErrChecksumMismatch)
	assert.Equal(t, rejected, obs.rejected)
	assert.Equal(t, uint64(1), s.Stats().Corrupt)
}

func TestSession_PollAcrossReads(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	raw := mustEncode(t, &ReceivePacket{Source: testRemote, Reserved: ReservedUnknown, Data: []byte("split")}, true)
	mock.QueueRead(raw[:7], raw[7:])

	frames, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, raw[1:7], s.Pending())

	frames, err = s.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Nil(t, s.Pending())

	frames, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestSession_ResetStream(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	raw := mustEncode(t, &TransmitStatus{FrameID: 0x01, Reserved: ReservedUnknown}, true)
	mock.QueueRead(raw[:5], raw)

	_, err := s.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.Pending())

	s.ResetStream()
	assert.Nil(t, s.Pending())

	frames, err := s.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Valid())
}

func TestSession_InboxLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WriteRetry = nil
	cfg.InboxLimit = 2
	mock := NewMockTransport()
	s, err := New(mock, WithConfig(cfg))
	require.NoError(t, err)

	for i := range 3 {
		pollFrames(t, s, mock, &TransmitStatus{FrameID: byte(i + 1), Reserved: ReservedUnknown})
	}

	inbox := s.Inbox()
	require.Len(t, inbox, 2)
	first, ok := inbox[0].Message.(*TransmitStatus)
	require.True(t, ok)
	assert.Equal(t, byte(2), first.FrameID)
}

func TestSession_TransportFailureIsFatal(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	mock.SetWriteError(io.ErrClosedPipe)

	_, err := s.GetLocalRegister(context.Background(), CmdNetworkID)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.True(t, IsFatal(err))
	assert.False(t, IsDeclined(err))

	trace := GetTrace(err)
	require.NotNil(t, trace)
	require.Len(t, trace.Trace, 1)
	assert.Equal(t, TraceTX, trace.Trace[0].Direction)
	assert.Contains(t, trace.FormatTrace(), "7E 00 04 08 52 49 44 18")
}

func TestSession_ReadFailure(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	mock.SetReadError(NewTimeoutError("read", "mock"))

	_, err := s.Poll(context.Background())
	require.ErrorIs(t, err, ErrTransportTimeout)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.NotNil(t, GetTrace(err))
}

func TestSession_CancelledContext(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetLocalRegister(ctx, CmdNetworkID)
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Poll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.WriteCount())
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, mock.IsConnected())

	_, err := s.GetLocalRegister(context.Background(), CmdNetworkID)
	require.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, IsFatal(err))

	_, err = s.Poll(context.Background())
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestSession_SendCountsFrames(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	s, _ := newTestSession(t, WithObserver(obs))

	require.NoError(t, s.Send(context.Background(), &LocalATCommand{FrameID: 1, Command: CmdSerialHigh}))
	_, err := s.NetworkDiscover(context.Background())
	require.NoError(t, err)
	_, err = s.FindLocalNeighbors(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []FrameType{FrameLocalAT, FrameLocalAT, FrameLocalAT}, obs.sent)

	err = s.Send(context.Background(), &LocalATCommand{Command: "toolong"})
	require.ErrorIs(t, err, ErrInvalidCommand)
	assert.Len(t, obs.sent, 3)
}

func TestSession_ReadErrorsPassThroughRetry(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	s, err := New(mock)
	require.NoError(t, err)
	mock.SetReadError(errors.New("boom"))

	_, err = s.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// flushingTransport counts input flushes and can fail them.
type flushingTransport struct {
	*MockTransport
	err    error
	resets int
}

func (f *flushingTransport) ResetInput() error {
	f.resets++
	return f.err
}

func TestSession_ResetInput(t *testing.T) {
	t.Parallel()

	t.Run("flushes through retry wrapper", func(t *testing.T) {
		t.Parallel()
		transport := &flushingTransport{MockTransport: NewMockTransport()}
		s, err := New(transport)
		require.NoError(t, err)

		transport.QueueRead([]byte{0x7E, 0x00, 0x05, 0x88})
		_, err = s.Poll(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, s.Pending())

		require.NoError(t, s.ResetInput())
		assert.Empty(t, s.Pending())
		assert.Equal(t, 1, transport.resets)
	})

	t.Run("flush failure", func(t *testing.T) {
		t.Parallel()
		transport := &flushingTransport{MockTransport: NewMockTransport(), err: io.ErrClosedPipe}
		s, err := New(transport)
		require.NoError(t, err)

		err = s.ResetInput()
		require.ErrorIs(t, err, io.ErrClosedPipe)
		assert.True(t, IsFatal(err))
	})

	t.Run("transport without flush", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestSession(t)
		require.NoError(t, s.ResetInput())
	})
}

func TestSession_APModeChangeAppliesWithinOneRead(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	require.True(t, s.escaped())

	packet := &ReceivePacket{Source: testRemote, Reserved: ReservedUnknown, Data: []byte{0x7D, 0x31}}
	chunk := mustEncode(t, &ATResponse{FrameID: 0x52, Command: CmdAPIMode, Data: []byte{APIModeUnescaped}}, true)
	chunk = append(chunk, mustEncode(t, packet, false)...)
	mock.QueueRead(chunk)

	frames, err := s.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, packet, frames[1].Message)
	assert.False(t, s.escaped())
	assert.Empty(t, s.Pending())
	assert.Zero(t, s.Stats().Waits)
}

// partialReadTransport hands back bytes together with a read error, as a
// serial port does when it fails partway through a drain.
type partialReadTransport struct {
	*MockTransport
	data []byte
	err  error
}

func (p *partialReadTransport) ReadAvailable(context.Context) ([]byte, error) {
	data, err := p.data, p.err
	p.data, p.err = nil, nil
	return data, err
}

func TestSession_BytesBeforeReadErrorAreProcessed(t *testing.T) {
	t.Parallel()

	status := &TransmitStatus{FrameID: 0x01, Reserved: ReservedUnknown, Delivery: DeliverySuccess}
	whole := mustEncode(t, status, true)
	partial := mustEncode(t, &TransmitStatus{FrameID: 0x02, Reserved: ReservedUnknown}, true)

	transport := &partialReadTransport{
		MockTransport: NewMockTransport(),
		data:          append(whole, partial[:4]...),
		err:           NewTimeoutError("read", "mock"),
	}
	cfg := DefaultConfig()
	cfg.WriteRetry = nil
	s, err := New(transport, WithConfig(cfg))
	require.NoError(t, err)

	frames, err := s.Poll(context.Background())
	require.ErrorIs(t, err, ErrTransportTimeout)
	require.Len(t, frames, 1)
	assert.Equal(t, status, frames[0].Message)
	assert.Len(t, s.Inbox(), 1)
	assert.Equal(t, uint64(1), s.Diagnostics().GoodFrames)
	assert.Equal(t, partial[1:4], s.Pending())

	// the rest of the split frame completes on the next read
	transport.data = partial[4:]
	frames, err = s.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestSession_RemoteATRecordsDestination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		call func(s *Session) error
		name string
	}{
		{
			name: "get remote register",
			call: func(s *Session) error {
				_, err := s.GetRemoteRegister(context.Background(), testRemote, CmdNodeType)
				return err
			},
		},
		{
			name: "set remote register",
			call: func(s *Session) error {
				_, err := s.SetRemoteRegister(context.Background(), testRemote, CmdNetworkID, []byte{0x12, 0x34})
				return err
			},
		},
		{
			name: "find neighbors",
			call: func(s *Session) error {
				_, err := s.FindNeighbors(context.Background(), testRemote)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestSession(t)
			require.NoError(t, tt.call(s))

			dest, ok := s.registers.Destination()
			require.True(t, ok)
			assert.Equal(t, testRemote, dest)
		})
	}
}

func TestSession_RemoteNodes(t *testing.T) {
	t.Parallel()

	s, mock := newTestSession(t)
	assert.Empty(t, s.RemoteNodes())

	pollFrames(t, s, mock,
		&RemoteATResponse{FrameID: 0x01, Source: testRemote, Reserved: ReservedUnknown, Command: CmdNodeType, Data: []byte{0x00}},
		&RemoteATResponse{FrameID: 0x01, Source: testNode, Reserved: ReservedUnknown, Command: CmdNodeType, Status: ATStatusTxFailure},
	)

	assert.Equal(t, []NodeAddress{testRemote}, s.RemoteNodes())
}

func TestSession_PollLogsRawChunks(t *testing.T) {
	buf := captureSessionLog(t)

	s, mock := newTestSession(t)
	mock.QueueRead([]byte{0x7E, 0x00})
	_, err := s.Poll(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "DEBUG: RX 7E 00")
}
