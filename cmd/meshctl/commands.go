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

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	digimesh "github.com/ZaparooProject/go-digimesh"
	"github.com/ZaparooProject/go-digimesh/metrics"
	"github.com/ZaparooProject/go-digimesh/polling"
)

var (
	errUsage      = errors.New("usage error")
	errUnknownCmd = errors.New("unknown command")
	errArgCount   = errors.New("wrong number of arguments")
	collectPeriod = 50 * time.Millisecond
)

// cli runs one command against an open session.
type cli struct {
	session     *digimesh.Session
	reopen      polling.ReopenFunc
	collector   *metrics.Collector
	out         io.Writer
	wait        time.Duration
	lostTimeout time.Duration
}

type command struct {
	run     func(c *cli, ctx context.Context, args []string) error
	minArgs int
	maxArgs int
}

var commands = map[string]command{
	"configure":  {run: (*cli).configure},
	"get":        {run: (*cli).get, minArgs: 1, maxArgs: 1},
	"set":        {run: (*cli).set, minArgs: 2, maxArgs: 2},
	"send":       {run: (*cli).send, minArgs: 2, maxArgs: 2},
	"broadcast":  {run: (*cli).broadcast, minArgs: 1, maxArgs: 1},
	"neighbors":  {run: (*cli).neighbors, maxArgs: 1},
	"discover":   {run: (*cli).discover},
	"linktest":   {run: (*cli).linkTest, minArgs: 2, maxArgs: 3},
	"traceroute": {run: (*cli).traceRoute, minArgs: 1, maxArgs: 1},
	"diag":       {run: (*cli).diag},
	"monitor":    {run: (*cli).monitor},
}

func (c *cli) execute(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownCmd, name)
	}
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		return fmt.Errorf("%w: %s takes %d-%d, got %d", errArgCount, name, cmd.minArgs, cmd.maxArgs, len(args))
	}
	return cmd.run(c, ctx, args)
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// collect polls for d and prints every frame that arrives.
func (c *cli) collect(ctx context.Context, d time.Duration) error {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(collectPeriod)
	defer ticker.Stop()

	for {
		frames, err := c.session.Poll(ctx)
		if err != nil {
			return err
		}
		for _, f := range frames {
			c.printFrame(f)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}

func (c *cli) printFrame(d digimesh.Decoded) {
	if !d.Valid() {
		c.printf("%s: %v\n", d.Name, d.Err)
		return
	}
	switch m := d.Message.(type) {
	case *digimesh.ATResponse:
		c.printf("%s %s %s %s\n", d.Name, m.Command, m.Status, hex.EncodeToString(m.Data))
	case *digimesh.RemoteATResponse:
		c.printf("%s %s %s %s %s\n", d.Name, m.Source, m.Command, m.Status, hex.EncodeToString(m.Data))
	case *digimesh.TransmitStatus:
		c.printf("%s frame %d %s (%d retries)\n", d.Name, m.FrameID, m.Delivery, m.RetryCount)
	case *digimesh.ReceivePacket:
		c.printf("%s from %s: %q\n", d.Name, m.Source, m.Data)
	case *digimesh.ExplicitRxIndicator:
		c.printf("%s from %s cluster 0x%04x: %s\n", d.Name, m.Source, m.ClusterID, hex.EncodeToString(m.Data))
	case *digimesh.RouteInformation:
		c.printf("%s %s -> %s\n", d.Name, m.Responder, m.Receiver)
	default:
		c.printf("%s %s\n", d.Name, hex.EncodeToString(d.Raw))
	}
}

func (c *cli) configure(ctx context.Context, _ []string) error {
	if err := c.session.Configure(ctx); err != nil {
		return err
	}
	if err := c.collect(ctx, c.wait); err != nil {
		return err
	}
	if addr, ok := c.session.LocalAddress(); ok {
		c.printf("local address %s\n", addr)
	}
	if id, ok := c.session.Register(digimesh.CmdNetworkID); ok {
		c.printf("network id %s\n", hex.EncodeToString(id))
	}
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	cmd := digimesh.ATCommand(args[0])
	if _, err := c.session.GetLocalRegister(ctx, cmd); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) set(ctx context.Context, args []string) error {
	value, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	if _, err := c.session.SetLocalRegister(ctx, digimesh.ATCommand(args[0]), value); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) send(ctx context.Context, args []string) error {
	dest, err := digimesh.ParseNodeAddress(args[0])
	if err != nil {
		return err
	}
	if _, err := c.session.SendData(ctx, dest, []byte(args[1])); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) broadcast(ctx context.Context, args []string) error {
	if _, err := c.session.Broadcast(ctx, []byte(args[0])); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) neighbors(ctx context.Context, args []string) error {
	if len(args) == 0 {
		if _, err := c.session.FindLocalNeighbors(ctx); err != nil {
			return err
		}
		return c.collect(ctx, c.wait)
	}
	dest, err := digimesh.ParseNodeAddress(args[0])
	if err != nil {
		return err
	}
	if _, err := c.session.FindNeighbors(ctx, dest); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) discover(ctx context.Context, _ []string) error {
	if _, err := c.session.NetworkDiscover(ctx); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) linkTest(ctx context.Context, args []string) error {
	sender, err := digimesh.ParseNodeAddress(args[0])
	if err != nil {
		return err
	}
	dest, err := digimesh.ParseNodeAddress(args[1])
	if err != nil {
		return err
	}
	iterations := uint64(10)
	if len(args) == 3 {
		iterations, err = strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid iteration count %q: %w", args[2], err)
		}
	}
	_, err = c.session.LinkQualityTest(ctx, sender, dest, digimesh.DefaultLinkTestSize, uint16(iterations))
	if err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) traceRoute(ctx context.Context, args []string) error {
	dest, err := digimesh.ParseNodeAddress(args[0])
	if err != nil {
		return err
	}
	if _, err := c.session.TraceRoute(ctx, dest); err != nil {
		return err
	}
	return c.collect(ctx, c.wait)
}

func (c *cli) diag(ctx context.Context, _ []string) error {
	for _, cmd := range []digimesh.ATCommand{
		digimesh.CmdGoodFrames, digimesh.CmdTimeouts, digimesh.CmdTransmitErrors, digimesh.CmdLastRSSI,
	} {
		if _, err := c.session.GetLocalRegister(ctx, cmd); err != nil {
			return err
		}
	}
	if err := c.collect(ctx, c.wait); err != nil {
		return err
	}

	d := c.session.Diagnostics()
	c.printf("good frames %d\ntimeouts %d\ntransmit errors %d\n", d.GoodFrames, d.Timeouts, d.TransmitErrors)
	if d.HasRSSI {
		c.printf("last rssi %d dBm\n", d.LastRSSI)
	}
	for _, node := range c.session.RemoteNodes() {
		c.printf("remote node %s\n", node)
	}
	s := c.session.Stats()
	c.printf("frames %d corrupt %d unknown %d malformed %d noise bytes %d\n",
		s.Frames, s.Corrupt, s.Unknown, s.Malformed, s.NoiseBytes)
	return nil
}

// monitor prints frames and node presence until ctx ends.
func (c *cli) monitor(ctx context.Context, _ []string) error {
	cfg := polling.DefaultConfig()
	if c.lostTimeout > 0 {
		cfg.NodeLostTimeout = c.lostTimeout
	}
	callbacks := polling.Callbacks{
		OnFrame: c.printFrame,
		OnNodeSeen: func(node digimesh.NodeAddress) {
			c.printf("node %s seen\n", node)
			if c.collector != nil {
				c.collector.NodeSeen(node)
			}
		},
		OnNodeLost: func(node digimesh.NodeAddress) {
			c.printf("node %s lost\n", node)
			if c.collector != nil {
				c.collector.NodeLost(node)
			}
		},
		OnError: func(err error) {
			digimesh.Debugf("poll: %v", err)
		},
	}

	m := polling.NewMonitor(c.session, cfg, callbacks)
	if c.reopen != nil {
		m.SetRecoverer(polling.NewDefaultRecoverer(c.session, c.reopen, 0, 0))
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for m.Running() {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}
	_ = m.Stop(context.Background())
	if s := m.Session(); s != c.session {
		_ = s.Close()
	}
	if err := m.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
