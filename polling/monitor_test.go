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

package polling

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	digimesh "github.com/ZaparooProject/go-digimesh"
	virt "github.com/ZaparooProject/go-digimesh/internal/testing"
)

var remoteNode = digimesh.NodeAddress{High: "0013a200", Low: "40d4e5f6"}

func createSessionWithTransport(t *testing.T) (*digimesh.Session, *digimesh.MockTransport) {
	t.Helper()

	mock := digimesh.NewMockTransport()
	cfg := digimesh.DefaultConfig()
	cfg.WriteRetry = nil
	session, err := digimesh.New(mock, digimesh.WithConfig(cfg))
	require.NoError(t, err)
	return session, mock
}

func receiveFrame(data string) []byte {
	return virt.BuildFrame(virt.BuildReceivePacket(virt.TestRemoteAddress, []byte(data)), true)
}

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedMonitor(session *digimesh.Session, config *Config, callbacks Callbacks) (*Monitor, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMonitor(session, config, callbacks)
	m.now = clock.Now
	m.lastTraffic.Store(clock.Now().UnixNano())
	return m, clock
}

func TestMonitor_StartStop(t *testing.T) {
	t.Parallel()
	session, _ := createSessionWithTransport(t)

	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	m := NewMonitor(session, config, Callbacks{})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return m.GetMetrics().PollCycles > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.Running())
	assert.NoError(t, m.Err())
}

func TestMonitor_StartRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	session, _ := createSessionWithTransport(t)

	m := NewMonitor(session, &Config{}, Callbacks{})
	require.ErrorIs(t, m.Start(context.Background()), ErrInvalidConfig)
	assert.False(t, m.Running())
}

func TestMonitor_DeliversFramesAndTracksNodes(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	var frames []digimesh.Decoded
	var seen []digimesh.NodeAddress
	m, clock := newClockedMonitor(session, DefaultConfig(), Callbacks{
		OnFrame:    func(d digimesh.Decoded) { frames = append(frames, d) },
		OnNodeSeen: func(n digimesh.NodeAddress) { seen = append(seen, n) },
	})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	mock.QueueRead(append(receiveFrame("one"), receiveFrame("two")...))
	require.NoError(t, m.PollOnce(context.Background()))
	clock.Advance(10 * time.Millisecond)
	mock.QueueRead(receiveFrame("three"))
	require.NoError(t, m.PollOnce(context.Background()))

	require.Len(t, frames, 3)
	assert.Equal(t, []digimesh.NodeAddress{remoteNode}, seen, "seen fires once per arrival")
	assert.True(t, m.Present(remoteNode))

	nodes := m.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, int64(3), nodes[0].Frames)
	assert.Equal(t, clock.Now(), nodes[0].LastSeen)
	assert.True(t, nodes[0].FirstSeen.Before(nodes[0].LastSeen))

	metrics := m.GetMetrics()
	assert.Equal(t, int64(2), metrics.PollCycles)
	assert.Equal(t, int64(3), metrics.FramesReceived)
}

func TestMonitor_NodeLost(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	config.NodeLostTimeout = 20 * time.Millisecond
	var lost atomic.Int32
	m := NewMonitor(session, config, Callbacks{
		OnNodeLost: func(n digimesh.NodeAddress) {
			if n == remoteNode {
				lost.Add(1)
			}
		},
	})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	mock.QueueRead(receiveFrame("hello"))
	require.NoError(t, m.PollOnce(context.Background()))
	require.True(t, m.Present(remoteNode))

	assert.Eventually(t, func() bool { return lost.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Present(remoteNode))
}

func TestMonitor_FailedRemoteResponseIsNotASighting(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	m, _ := newClockedMonitor(session, DefaultConfig(), Callbacks{})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	failed := virt.BuildRemoteATResponse(0x01, virt.TestRemoteAddress, "NI", virt.StatusTxFailure, nil)
	mock.QueueRead(virt.BuildFrame(failed, true))
	require.NoError(t, m.PollOnce(context.Background()))

	assert.Empty(t, m.Nodes())
	assert.Equal(t, int64(1), m.GetMetrics().FramesReceived)
}

func TestMonitor_AdaptiveInterval(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	m, clock := newClockedMonitor(session, config, Callbacks{})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, config.PollInterval, m.Interval())

	clock.Advance(config.IdleAfter + time.Millisecond)
	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, config.IdlePollInterval, m.Interval())

	clock.Advance(config.IdlePollInterval)
	mock.QueueRead(receiveFrame("wake"))
	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, config.PollInterval, m.Interval())
}

func TestMonitor_StalledPartialFrameIsDiscarded(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	config.StallTimeout = 100 * time.Millisecond
	m, clock := newClockedMonitor(session, config, Callbacks{})

	full := receiveFrame("partial")
	mock.QueueRead(full[:6])
	require.NoError(t, m.PollOnce(context.Background()))
	require.NotEmpty(t, session.Pending())

	clock.Advance(50 * time.Millisecond)
	require.NoError(t, m.PollOnce(context.Background()))
	assert.NotEmpty(t, session.Pending(), "not stalled long enough")

	clock.Advance(60 * time.Millisecond)
	require.NoError(t, m.PollOnce(context.Background()))
	assert.Empty(t, session.Pending())
	assert.Equal(t, int64(1), m.GetMetrics().StreamResets)
}

func TestMonitor_GrowingPartialFrameIsKept(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	config.StallTimeout = 100 * time.Millisecond
	var frames int
	m, clock := newClockedMonitor(session, config, Callbacks{
		OnFrame: func(digimesh.Decoded) { frames++ },
	})

	full := receiveFrame("slowly")
	for _, chunk := range [][]byte{full[:4], full[4:9], full[9:]} {
		mock.QueueRead(chunk)
		require.NoError(t, m.PollOnce(context.Background()))
		clock.Advance(80 * time.Millisecond)
	}

	assert.Equal(t, 1, frames)
	assert.Equal(t, int64(0), m.GetMetrics().StreamResets)
}

func TestMonitor_SleepResetsStream(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	config.StallTimeout = 0
	m, clock := newClockedMonitor(session, config, Callbacks{})

	full := receiveFrame("before sleep")
	mock.QueueRead(full[:5])
	require.NoError(t, m.PollOnce(context.Background()))
	require.NotEmpty(t, session.Pending())

	clock.Advance(time.Minute)
	require.NoError(t, m.PollOnce(context.Background()))
	assert.Empty(t, session.Pending())
	assert.Equal(t, int64(1), m.GetMetrics().StreamResets)
}

func TestMonitor_SleepDetectionDisabled(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	config.StallTimeout = 0
	config.SleepRecovery.Enabled = false
	m, clock := newClockedMonitor(session, config, Callbacks{})

	mock.QueueRead(receiveFrame("kept")[:5])
	require.NoError(t, m.PollOnce(context.Background()))
	clock.Advance(time.Minute)
	require.NoError(t, m.PollOnce(context.Background()))

	assert.NotEmpty(t, session.Pending())
	assert.Equal(t, int64(0), m.GetMetrics().StreamResets)
}

func TestMonitor_TransientErrorIsReturned(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	m, _ := newClockedMonitor(session, DefaultConfig(), Callbacks{})
	mock.SetReadError(errors.New("glitch"))

	err := m.PollOnce(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRecoveryFailed)
	assert.Equal(t, int64(1), m.GetMetrics().PollErrors)
}

func TestMonitor_FatalErrorWithoutRecoverer(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)

	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	var reported atomic.Int32
	m := NewMonitor(session, config, Callbacks{
		OnError: func(error) { reported.Add(1) },
	})
	mock.SetReadError(io.EOF)

	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, m.Err(), ErrRecoveryFailed)
	require.ErrorIs(t, m.Err(), io.EOF)
	assert.Equal(t, int32(1), reported.Load())
	require.NoError(t, m.Stop(context.Background()))
}

func TestMonitor_FatalErrorRecoversByReopening(t *testing.T) {
	t.Parallel()
	session, mock := createSessionWithTransport(t)
	fresh, freshMock := createSessionWithTransport(t)

	var frames int
	m, _ := newClockedMonitor(session, DefaultConfig(), Callbacks{
		OnFrame: func(digimesh.Decoded) { frames++ },
	})
	mock.SetReadError(io.EOF)
	mock.SetWriteError(io.EOF)
	m.SetRecoverer(NewDefaultRecoverer(session, func() (*digimesh.Session, error) {
		return fresh, nil
	}, time.Millisecond, 1))

	require.NoError(t, m.PollOnce(context.Background()))
	assert.Same(t, fresh, m.Session())
	assert.Equal(t, int64(1), m.GetMetrics().Recoveries)

	freshMock.QueueRead(receiveFrame("after"))
	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, 1, frames)
}

func TestMonitor_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	session, _ := createSessionWithTransport(t)

	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	m := NewMonitor(session, config, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)
	assert.NoError(t, m.Err())
}

func TestMonitor_StopBeforeStartDoesNotStopNextLoop(t *testing.T) {
	t.Parallel()
	session, _ := createSessionWithTransport(t)

	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	m := NewMonitor(session, config, Callbacks{})

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.Eventually(t, func() bool {
		return m.GetMetrics().PollCycles >= 3
	}, time.Second, 5*time.Millisecond)
	assert.True(t, m.Running())
}

func TestMonitor_RestartAfterContextCancel(t *testing.T) {
	t.Parallel()
	session, _ := createSessionWithTransport(t)

	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	m := NewMonitor(session, config, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)

	// Stop after the loop already exited must not poison the next Start.
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	cycles := m.GetMetrics().PollCycles
	assert.Eventually(t, func() bool {
		return m.GetMetrics().PollCycles > cycles+2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, m.Running())
}

// partialReadTransport returns queued bytes together with a read error,
// as a serial port does when it fails partway through a drain.
type partialReadTransport struct {
	*digimesh.MockTransport
	data []byte
	err  error
}

func (p *partialReadTransport) ReadAvailable(context.Context) ([]byte, error) {
	data, err := p.data, p.err
	p.data, p.err = nil, nil
	return data, err
}

func TestMonitor_FramesBeforeReadErrorAreDelivered(t *testing.T) {
	t.Parallel()

	transport := &partialReadTransport{
		MockTransport: digimesh.NewMockTransport(),
		data:          receiveFrame("kept"),
		err:           digimesh.NewTimeoutError("read", "mock"),
	}
	cfg := digimesh.DefaultConfig()
	cfg.WriteRetry = nil
	session, err := digimesh.New(transport, digimesh.WithConfig(cfg))
	require.NoError(t, err)

	var seen []digimesh.NodeAddress
	m, _ := newClockedMonitor(session, DefaultConfig(), Callbacks{
		OnNodeSeen: func(n digimesh.NodeAddress) { seen = append(seen, n) },
	})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	err = m.PollOnce(context.Background())
	require.ErrorIs(t, err, digimesh.ErrTransportTimeout)
	assert.Equal(t, []digimesh.NodeAddress{remoteNode}, seen)
	assert.Equal(t, int64(1), m.GetMetrics().FramesReceived)
	assert.Equal(t, int64(1), m.GetMetrics().PollErrors)
}
