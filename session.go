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
	"fmt"
	"slices"

	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

// Link test limits.
const (
	MaxLinkTestIterations = 4000
	DefaultLinkTestSize   = 0x20
)

// FrameHandler is called once per frame returned by Poll.
type FrameHandler func(Decoded)

// Observer receives session events, for example to export metrics. Calls
// are made with the session lock held and must not call back into it.
type Observer interface {
	FrameSent(t FrameType)
	FrameReceived(d Decoded)
	FrameRejected(r Rejection)
	DiagnosticsUpdated(d Diagnostics)
}

// Option configures a Session
type Option func(*Session) error

// WithConfig replaces the default configuration
func WithConfig(config *Config) Option {
	return func(s *Session) error {
		if config == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidConfig)
		}
		if err := config.Validate(); err != nil {
			return err
		}
		s.config = config
		return nil
	}
}

// WithFrameHandler registers a handler for every polled frame
func WithFrameHandler(h FrameHandler) Option {
	return func(s *Session) error {
		s.onFrame = h
		return nil
	}
}

// WithRejectHandler registers a handler for corrupt and undecodable frames
func WithRejectHandler(h RejectHandler) Option {
	return func(s *Session) error {
		s.onReject = h
		return nil
	}
}

// WithObserver registers an Observer
func WithObserver(o Observer) Option {
	return func(s *Session) error {
		s.observer = o
		return nil
	}
}

// Session drives one DigiMesh module: it encodes requests from the register
// model, writes them to the transport, and turns polled bytes into frames
// that update the register model and fill the inbox.
//
// Thread Safety: every method takes the session lock, so a Session may be
// shared, but handlers run under that lock and must not call back into it.
type Session struct {
	transport   Transport
	config      *Config
	registers   *Registers
	reassembler *Reassembler
	trace       *TraceBuffer
	onFrame     FrameHandler
	onReject    RejectHandler
	observer    Observer
	inbox       []Decoded
	mu          syncutil.Mutex
	closed      bool
}

// New creates a session on transport. Nothing is written until the first
// operation; call Configure to apply the radio profile.
func New(transport Transport, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}

	s := &Session{
		config:    DefaultConfig(),
		registers: NewRegisters(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply session option: %w", err)
		}
	}

	s.transport = transport
	if s.config.WriteRetry != nil {
		s.transport = NewTransportWithRetry(transport, s.config.WriteRetry)
	}
	s.trace = NewTraceBuffer(string(transport.Type()), s.config.Port, s.config.TraceDepth)
	s.reassembler = NewReassembler(s.config.Escaped(), s.rejected)
	return s, nil
}

// Config returns the session configuration
func (s *Session) Config() *Config {
	return s.config
}

// escaped reports the API mode in force: the AP register once known,
// otherwise the configured mode.
func (s *Session) escaped() bool {
	if mode, ok := s.registers.APIMode(); ok {
		return mode == APIModeEscaped
	}
	return s.config.Escaped()
}

// SetLocalRegister writes value to a register of the attached module and
// records it in the register model.
func (s *Session) SetLocalRegister(ctx context.Context, cmd ATCommand, value []byte) (*LocalATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAT(ctx, "SetLocalRegister", cmd, value)
}

// GetLocalRegister queries a register of the attached module. The value
// arrives later as an ATResponse and is applied by Poll.
func (s *Session) GetLocalRegister(ctx context.Context, cmd ATCommand) (*LocalATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAT(ctx, "GetLocalRegister", cmd, nil)
}

func (s *Session) localAT(ctx context.Context, op string, cmd ATCommand, value []byte) (*LocalATCommand, error) {
	msg := &LocalATCommand{FrameID: s.config.LocalFrameID, Command: cmd, Value: slices.Clone(value)}
	if err := s.send(ctx, op, msg); err != nil {
		return nil, err
	}
	if len(value) > 0 {
		s.registers.Set(cmd, value)
		s.reassembler.SetEscaped(s.escaped())
	}
	return msg, nil
}

// SetRemoteRegister writes value to a register of another module. Like
// every remote AT request it records dest as the DH/DL destination.
func (s *Session) SetRemoteRegister(
	ctx context.Context, dest NodeAddress, cmd ATCommand, value []byte,
) (*RemoteATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAT(ctx, "SetRemoteRegister", dest, cmd, value)
}

// GetRemoteRegister queries a register of another module and records dest
// as the DH/DL destination.
func (s *Session) GetRemoteRegister(ctx context.Context, dest NodeAddress, cmd ATCommand) (*RemoteATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAT(ctx, "GetRemoteRegister", dest, cmd, nil)
}

func (s *Session) remoteAT(
	ctx context.Context, op string, dest NodeAddress, cmd ATCommand, value []byte,
) (*RemoteATCommand, error) {
	if err := dest.Validate(); err != nil {
		return nil, declined(op, err, "")
	}
	msg := NewRemoteATCommand(dest, cmd, value)
	msg.FrameID = s.config.RemoteFrameID
	if err := s.send(ctx, op, msg); err != nil {
		return nil, err
	}
	if len(value) > 0 {
		s.registers.SetRemote(dest, cmd, value)
	}
	_ = s.registers.SetDestination(dest)
	return msg, nil
}

// SendData transmits data to dest and records dest as the DH/DL destination.
func (s *Session) SendData(ctx context.Context, dest NodeAddress, data []byte) (*TransmitRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmit(ctx, "SendData", dest, data, 0, ReservedUnknown)
}

// Broadcast transmits data to every module in range of the network.
func (s *Session) Broadcast(ctx context.Context, data []byte) (*TransmitRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmit(ctx, "Broadcast", BroadcastAddress, data, 0, ReservedUnknown)
}

func (s *Session) transmit(
	ctx context.Context, op string, dest NodeAddress, data []byte, options byte, reserved uint16,
) (*TransmitRequest, error) {
	if err := dest.Validate(); err != nil {
		return nil, declined(op, err, "")
	}
	msg := &TransmitRequest{
		FrameID:         s.config.TransmitFrameID,
		Destination:     dest,
		Reserved:        reserved,
		BroadcastRadius: s.config.BroadcastRadius,
		Options:         options,
		Data:            slices.Clone(data),
	}
	if err := s.send(ctx, op, msg); err != nil {
		return nil, err
	}
	_ = s.registers.SetDestination(dest)
	return msg, nil
}

// FindNeighbors asks a remote module to report the modules within its RF
// range. The local module and the broadcast address are declined; use
// FindLocalNeighbors for the local module.
func (s *Session) FindNeighbors(ctx context.Context, dest NodeAddress) (*RemoteATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "FindNeighbors"
	if err := s.checkRemoteTarget(op, dest); err != nil {
		return nil, err
	}
	return s.remoteAT(ctx, op, dest, CmdFindNeighbors, nil)
}

// FindLocalNeighbors asks the attached module for the modules in its range.
func (s *Session) FindLocalNeighbors(ctx context.Context) (*LocalATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAT(ctx, "FindLocalNeighbors", CmdFindNeighbors, nil)
}

// NetworkDiscover asks the attached module to discover every module sharing
// its network ID.
func (s *Session) NetworkDiscover(ctx context.Context) (*LocalATCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAT(ctx, "NetworkDiscover", CmdNodeDiscover, nil)
}

// LinkQualityTest asks sender to run a link test towards dest, sending size
// bytes iterations times. sender becomes the DH/DL destination. Results arrive as an
// ExplicitRxIndicator on the link test cluster.
func (s *Session) LinkQualityTest(
	ctx context.Context, sender, dest NodeAddress, size, iterations uint16,
) (*ExplicitTransmit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "LinkQualityTest"
	if err := sender.Validate(); err != nil {
		return nil, declined(op, err, "sender")
	}
	if err := dest.Validate(); err != nil {
		return nil, declined(op, err, "destination")
	}
	if sender.IsBroadcast() || dest.IsBroadcast() {
		return nil, declined(op, ErrOperationNotAllowed, "link test cannot be broadcast")
	}
	if iterations == 0 || iterations > MaxLinkTestIterations {
		return nil, declined(op, ErrInvalidParameter,
			fmt.Sprintf("iterations must be 1-%d, got %d", MaxLinkTestIterations, iterations))
	}

	payload, _ := dest.Bytes()
	payload = append(payload, byte(size>>8), byte(size), byte(iterations>>8), byte(iterations))

	msg := &ExplicitTransmit{
		FrameID:         s.config.TransmitFrameID,
		Destination:     sender,
		Reserved:        ReservedUnknown,
		SourceEndpoint:  EndpointDigiDevice,
		DestEndpoint:    EndpointDigiDevice,
		ClusterID:       ClusterLinkTest,
		ProfileID:       ProfileDigi,
		BroadcastRadius: s.config.BroadcastRadius,
		Data:            payload,
	}
	if err := s.send(ctx, op, msg); err != nil {
		return nil, err
	}
	_ = s.registers.SetDestination(sender)
	return msg, nil
}

// TraceRoute sends a small trace-route transmission to dest. Each hop
// answers with a RouteInformation frame. The local module and the broadcast
// address are declined.
func (s *Session) TraceRoute(ctx context.Context, dest NodeAddress) (*TransmitRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "TraceRoute"
	if err := s.checkRemoteTarget(op, dest); err != nil {
		return nil, err
	}
	return s.transmit(ctx, op, dest, []byte{1, 2, 3}, OptionTraceRoute, ReservedTraceRoute)
}

// checkRemoteTarget declines malformed, broadcast and local addresses.
func (s *Session) checkRemoteTarget(op string, dest NodeAddress) error {
	if err := dest.Validate(); err != nil {
		return declined(op, err, "")
	}
	if dest.IsBroadcast() {
		return declined(op, ErrOperationNotAllowed, "target is the broadcast address")
	}
	if local, ok := s.registers.LocalAddress(); ok && local == dest {
		return declined(op, ErrOperationNotAllowed, "target is the local module")
	}
	return nil
}

// Send encodes and writes any outbound message as is.
func (s *Session) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(ctx, "Send", msg)
}

// Configure applies the radio profile (ID, AP, AO, NO) and then queries the
// registers the session relies on. Responses are applied by Poll.
func (s *Session) Configure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := []struct {
		cmd   ATCommand
		value uint64
	}{
		{CmdNetworkID, uint64(s.config.NetworkID)},
		{CmdAPIMode, uint64(s.config.APIMode)},
		{CmdAPIOutput, uint64(s.config.APIOutput)},
		{CmdDiscoveryOptions, uint64(s.config.DiscoveryOptions)},
	}
	for _, setting := range settings {
		if _, err := s.localAT(ctx, "Configure", setting.cmd, EncodeUint(setting.value)); err != nil {
			return err
		}
	}

	for _, cmd := range ConfigureQueries {
		if _, err := s.localAT(ctx, "Configure", cmd, nil); err != nil {
			return err
		}
	}
	Debugf("configured module: ID=0x%04X AP=%d AO=%d", s.config.NetworkID, s.config.APIMode, s.config.APIOutput)
	return nil
}

// ConfigureQueries are the registers read back by Configure, in order.
var ConfigureQueries = []ATCommand{
	CmdNetworkID, CmdNodeType, CmdBroadcastHops, CmdDiscoveryTimeout,
	CmdSerialHigh, CmdSerialLow, CmdDestHigh, CmdDestLow, CmdAPIMode, CmdAPIOutput,
}

// send encodes msg and writes it. Field errors decline the request before
// any I/O; write failures are returned as transport errors with the recent
// wire trace attached.
func (s *Session) send(ctx context.Context, op string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.closed {
		return NewTransportClosedError(op, "")
	}

	raw, err := Encode(msg, s.escaped())
	if err != nil {
		return declined(op, err, "")
	}

	s.trace.RecordTX(raw, msg.FrameType().String())
	LogFrame(TraceTX, raw, op)
	if err := s.transport.Write(ctx, raw); err != nil {
		return s.trace.WrapError(s.transportError(op, err))
	}

	if s.observer != nil {
		s.observer.FrameSent(msg.FrameType())
	}
	return nil
}

func (s *Session) transportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return NewTransportError(op, string(s.transport.Type()), err, errorTypeOf(err))
}

// Poll drains the transport once and processes every frame completed by
// the new bytes: valid frames update the register model and diagnostics,
// and every returned frame is appended to the inbox. Only transport
// failures are returned as errors. Bytes read before a transport failure
// are still processed, and their frames are returned with the error.
func (s *Session) Poll(ctx context.Context) ([]Decoded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if s.closed {
		return nil, NewTransportClosedError("poll", "")
	}

	data, readErr := s.transport.ReadAvailable(ctx)
	var frames []Decoded
	if len(data) > 0 {
		s.trace.RecordRX(data, "")
		DebugFrame(TraceRX, data)
		frames = s.reassembler.FeedFunc(data, s.process)
	}
	if readErr != nil {
		return frames, s.trace.WrapError(s.transportError("poll", readErr))
	}
	return frames, nil
}

func (s *Session) process(d Decoded) {
	LogFrame(TraceRX, d.Raw, d.Name)

	if d.Valid() && s.registers.Apply(d.Message) && s.observer != nil {
		s.observer.DiagnosticsUpdated(s.registers.Diagnostics())
	}
	s.reassembler.SetEscaped(s.escaped())

	s.inbox = append(s.inbox, d)
	if limit := s.config.InboxLimit; limit > 0 && len(s.inbox) > limit {
		s.inbox = slices.Delete(s.inbox, 0, len(s.inbox)-limit)
	}

	if d.Report {
		Debugf("%s: %+v", d.Name, d.Message)
	}
	if s.observer != nil {
		s.observer.FrameReceived(d)
	}
	if s.onFrame != nil {
		s.onFrame(d)
	}
}

func (s *Session) rejected(r Rejection) {
	if s.observer != nil {
		s.observer.FrameRejected(r)
	}
	if s.onReject != nil {
		s.onReject(r)
	}
}

// Inbox returns a copy of the received frames, oldest first.
func (s *Session) Inbox() []Decoded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.inbox)
}

// TakeInbox returns the received frames and empties the inbox.
func (s *Session) TakeInbox() []Decoded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

// Register returns the last known value of a local register.
func (s *Session) Register(cmd ATCommand) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers.Get(cmd)
}

// RemoteRegister returns the last value node reported for cmd.
func (s *Session) RemoteRegister(node NodeAddress, cmd ATCommand) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers.Remote(node, cmd)
}

// Registers returns a copy of every known local register.
func (s *Session) Registers() map[ATCommand][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers.Snapshot()
}

// RemoteNodes returns the nodes that answered a remote AT request with a
// register value, sorted by address.
func (s *Session) RemoteNodes() []NodeAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers.Nodes()
}

// LocalAddress returns the attached module's address once SH/SL are known.
func (s *Session) LocalAddress() (NodeAddress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers.LocalAddress()
}

// Diagnostics returns a copy of the link counters.
func (s *Session) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers.Diagnostics()
}

// Stats returns the reassembler counters.
func (s *Session) Stats() ReassemblerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reassembler.Stats()
}

// Pending returns the bytes of the frame currently being reassembled.
func (s *Session) Pending() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reassembler.Pending()
}

// ResetStream drops any partially received frame, for example after the
// host resumes from sleep and the stream can no longer be trusted.
func (s *Session) ResetStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reassembler.Pending()) > 0 {
		Debugln("discarding partial frame after stream reset")
	}
	s.reassembler.Discard()
}

// ResetInput drops any partially received frame and flushes the
// transport's input buffer when the transport is an InputResetter.
func (s *Session) ResetInput() error {
	s.ResetStream()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.transport.(InputResetter)
	if !ok || s.closed {
		return nil
	}
	if err := r.ResetInput(); err != nil {
		return s.trace.WrapError(s.transportError("reset input", err))
	}
	return nil
}

// Transport returns the underlying transport
func (s *Session) Transport() Transport {
	return s.transport
}

// Close closes the transport. Later operations fail with ErrTransportClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
