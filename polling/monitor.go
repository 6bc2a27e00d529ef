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

// Package polling runs a background loop that drains a DigiMesh session,
// tracks which remote nodes are being heard and recovers the stream after
// host sleep or stalls.
package polling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	digimesh "github.com/ZaparooProject/go-digimesh"
	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

// ErrRecoveryFailed wraps a fatal poll error the monitor could not recover
// from. The loop stops after reporting it.
var ErrRecoveryFailed = errors.New("session recovery failed")

// Callbacks defines callback functions for monitor events
type Callbacks struct {
	OnFrame    func(d digimesh.Decoded)
	OnNodeSeen func(node digimesh.NodeAddress)
	OnNodeLost func(node digimesh.NodeAddress)
	OnError    func(err error)
}

// Metrics tracks operational metrics for a Monitor
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of polls that returned an error
	FramesReceived  int64         // Frames delivered by the session
	StreamResets    int64         // Partial frames discarded after sleep or a stall
	Recoveries      int64         // Successful recoveries from fatal errors
	LastPollLatency time.Duration // Duration of last poll
}

// Monitor polls a session in the background
type Monitor struct {
	session   *digimesh.Session
	recoverer SessionRecoverer
	config    *Config
	callbacks Callbacks
	nodes     map[digimesh.NodeAddress]*NodeState
	stopChan  chan struct{}
	now       func() time.Time
	err       error

	// loop-only state
	lastPoll     time.Time
	stallPending []byte
	stallSince   time.Time

	wg sync.WaitGroup
	mu syncutil.Mutex

	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	framesReceived  atomic.Int64
	streamResets    atomic.Int64
	recoveries      atomic.Int64
	lastPollLatency atomic.Int64 // in nanoseconds
	currentInterval atomic.Int64 // in nanoseconds
	lastTraffic     atomic.Int64 // unix nanoseconds
	running         atomic.Bool
}

// NewMonitor creates a monitor for session. A nil config uses DefaultConfig.
func NewMonitor(session *digimesh.Session, config *Config, callbacks Callbacks) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Monitor{
		session:   session,
		config:    config,
		callbacks: callbacks,
		nodes:     make(map[digimesh.NodeAddress]*NodeState),
		stopChan:  make(chan struct{}, 1), // Buffered to prevent deadlock in Stop()
		now:       time.Now,
	}
	m.currentInterval.Store(config.PollInterval.Nanoseconds())
	m.lastTraffic.Store(m.now().UnixNano())
	return m
}

// SetRecoverer installs the recoverer used on fatal errors. Without one a
// fatal error stops the loop.
func (m *Monitor) SetRecoverer(r SessionRecoverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverer = r
}

// Start launches the polling goroutine. Calling Start on a running monitor
// does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.config.Validate(); err != nil {
		return err
	}
	if m.running.CompareAndSwap(false, true) {
		// a Stop that raced the previous loop's exit leaves a token behind
		select {
		case <-m.stopChan:
		default:
		}
		m.wg.Add(1)
		go m.pollLoop(ctx)
	}
	return nil
}

// pollLoop runs continuous polling until stopped
func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	timer := time.NewTimer(0)
	defer func() {
		safeTimerStop(timer)
		m.running.Store(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-timer.C:
			if err := m.PollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.report(err)
				if errors.Is(err, ErrRecoveryFailed) {
					m.mu.Lock()
					m.err = err
					m.mu.Unlock()
					return
				}
			}
			timer.Reset(m.Interval())
		}
	}
}

// PollOnce runs one polling cycle: sleep detection, one Session.Poll,
// node tracking, stall detection and the interval update.
func (m *Monitor) PollOnce(ctx context.Context) error {
	now := m.now()
	if !m.lastPoll.IsZero() && m.config.SleepRecovery.DetectSleep(now.Sub(m.lastPoll), m.Interval()) {
		digimesh.Debugf("monitor: %v since last poll, resetting stream", now.Sub(m.lastPoll))
		m.resetStream(true)
	}
	m.lastPoll = now

	session := m.Session()
	start := time.Now()
	frames, err := session.Poll(ctx)
	m.pollCycles.Add(1)
	m.lastPollLatency.Store(time.Since(start).Nanoseconds())

	m.handleFrames(frames, now)
	if err != nil {
		m.pollErrors.Add(1)
		if digimesh.IsFatal(err) {
			return m.recover(ctx, err)
		}
		return err
	}

	m.checkStall(session, now)
	m.adjustPollInterval(now)
	return nil
}

func (m *Monitor) handleFrames(frames []digimesh.Decoded, now time.Time) {
	if len(frames) == 0 {
		return
	}
	m.framesReceived.Add(int64(len(frames)))
	m.lastTraffic.Store(now.UnixNano())

	for _, d := range frames {
		if m.callbacks.OnFrame != nil {
			m.callbacks.OnFrame(d)
		}
		if !d.Valid() {
			continue
		}
		if node, ok := sourceOf(d.Message); ok {
			m.nodeSeen(node, now)
		}
	}
}

func (m *Monitor) nodeSeen(node digimesh.NodeAddress, now time.Time) {
	m.mu.Lock()
	state, ok := m.nodes[node]
	if !ok {
		state = &NodeState{Address: node}
		m.nodes[node] = state
	}
	wasPresent := state.Present
	state.Seen(now, m.config.NodeLostTimeout, func(gen uint64) {
		m.nodeLost(node, gen)
	})
	m.mu.Unlock()

	if !wasPresent && m.callbacks.OnNodeSeen != nil {
		m.callbacks.OnNodeSeen(node)
	}
}

func (m *Monitor) nodeLost(node digimesh.NodeAddress, generation uint64) {
	m.mu.Lock()
	state, ok := m.nodes[node]
	lost := ok && state.MarkLost(generation)
	m.mu.Unlock()

	if lost && m.callbacks.OnNodeLost != nil {
		m.callbacks.OnNodeLost(node)
	}
}

// checkStall discards a partial frame that has not grown for StallTimeout.
func (m *Monitor) checkStall(session *digimesh.Session, now time.Time) {
	if m.config.StallTimeout <= 0 {
		return
	}
	pending := session.Pending()
	switch {
	case len(pending) == 0:
		m.stallPending = nil
	case !bytes.Equal(pending, m.stallPending):
		m.stallPending = pending
		m.stallSince = now
	case now.Sub(m.stallSince) >= m.config.StallTimeout:
		digimesh.Debugf("monitor: partial frame stalled for %v, discarding", now.Sub(m.stallSince))
		m.resetStream(false)
	}
}

// resetStream drops the partial frame, flushing transport input as well
// after a sleep.
func (m *Monitor) resetStream(flushInput bool) {
	session := m.Session()
	if flushInput {
		if err := session.ResetInput(); err != nil {
			m.report(fmt.Errorf("reset input: %w", err))
		}
	} else {
		session.ResetStream()
	}
	m.stallPending = nil
	m.streamResets.Add(1)
}

func (m *Monitor) recover(ctx context.Context, cause error) error {
	m.mu.Lock()
	recoverer := m.recoverer
	m.mu.Unlock()

	if recoverer == nil {
		return fmt.Errorf("%w: %w", ErrRecoveryFailed, cause)
	}
	if err := recoverer.AttemptRecovery(ctx); err != nil {
		return fmt.Errorf("%w: %w (after %w)", ErrRecoveryFailed, err, cause)
	}

	m.mu.Lock()
	m.session = recoverer.GetSession()
	m.mu.Unlock()
	m.stallPending = nil
	m.recoveries.Add(1)
	digimesh.Debugf("monitor: recovered from %v", cause)
	return nil
}

// adjustPollInterval slows polling down once the link has been quiet for
// IdleAfter.
func (m *Monitor) adjustPollInterval(now time.Time) {
	interval := m.config.PollInterval
	quiet := now.Sub(time.Unix(0, m.lastTraffic.Load()))
	if m.config.IdlePollInterval > 0 && quiet > m.config.IdleAfter {
		interval = m.config.IdlePollInterval
	}
	m.currentInterval.Store(interval.Nanoseconds())
}

func (m *Monitor) report(err error) {
	if m.callbacks.OnError != nil {
		m.callbacks.OnError(err)
	}
}

// Stop stops the monitor and waits for the polling goroutine to exit.
// Node lost timers are cancelled.
func (m *Monitor) Stop(_ context.Context) error {
	if m.running.Load() {
		select {
		case m.stopChan <- struct{}{}:
		default:
		}
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.nodes {
		state.Stop()
	}
	return nil
}

// Err returns the error that stopped the loop, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Running reports whether the polling goroutine is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Session returns the session being polled. It changes after a
// reconnecting recovery.
func (m *Monitor) Session() *digimesh.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Nodes returns every node heard so far, ordered by address.
func (m *Monitor) Nodes() []NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeState, 0, len(m.nodes))
	for _, state := range m.nodes {
		out = append(out, state.snapshot())
	}
	slices.SortFunc(out, func(a, b NodeState) int {
		return strings.Compare(a.Address.String(), b.Address.String())
	})
	return out
}

// Present reports whether node has been heard within NodeLostTimeout.
func (m *Monitor) Present(node digimesh.NodeAddress) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.nodes[node]
	return ok && state.Present
}

// GetMetrics returns current operational metrics
func (m *Monitor) GetMetrics() Metrics {
	return Metrics{
		PollCycles:      m.pollCycles.Load(),
		PollErrors:      m.pollErrors.Load(),
		FramesReceived:  m.framesReceived.Load(),
		StreamResets:    m.streamResets.Load(),
		Recoveries:      m.recoveries.Load(),
		LastPollLatency: time.Duration(m.lastPollLatency.Load()),
	}
}

// Interval returns the current adaptive polling interval
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.currentInterval.Load())
}
