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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	digimesh "github.com/ZaparooProject/go-digimesh"
	virt "github.com/ZaparooProject/go-digimesh/internal/testing"
)

type simTransport struct {
	*virt.SimulatorTransport
}

func (simTransport) Type() digimesh.TransportType {
	return digimesh.TransportMock
}

func newTestCLI(t *testing.T, module *virt.VirtualModule) (*cli, *bytes.Buffer) {
	t.Helper()

	cfg := digimesh.DefaultConfig()
	cfg.WriteRetry = nil
	session, err := digimesh.New(
		simTransport{SimulatorTransport: virt.NewSimulatorTransport(module)},
		digimesh.WithConfig(cfg),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	out := &bytes.Buffer{}
	return &cli{session: session, out: out, wait: 200 * time.Millisecond}, out
}

func TestCLI_Configure(t *testing.T) {
	t.Parallel()

	c, out := newTestCLI(t, virt.NewVirtualModule())
	require.NoError(t, c.execute(context.Background(), "configure", nil))

	assert.Contains(t, out.String(), "local address 0013a20040a1b2c3")
	assert.Contains(t, out.String(), "network id 7fff")
}

func TestCLI_Get(t *testing.T) {
	t.Parallel()

	c, out := newTestCLI(t, virt.NewVirtualModule())
	require.NoError(t, c.execute(context.Background(), "get", []string{"ID"}))

	assert.Contains(t, out.String(), "AT Command Response ID OK 7fff")
}

func TestCLI_Set(t *testing.T) {
	t.Parallel()

	module := virt.NewVirtualModule()
	c, _ := newTestCLI(t, module)
	require.NoError(t, c.execute(context.Background(), "set", []string{"ID", "1234"}))

	value, ok := module.Register("ID")
	require.True(t, ok)
	assert.Equal(t, []byte{0x12, 0x34}, value)

	err := c.execute(context.Background(), "set", []string{"ID", "zz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid value")
}

func TestCLI_SendEcho(t *testing.T) {
	t.Parallel()

	module := virt.NewVirtualModule()
	node := virt.NewVirtualNode(virt.TestRemoteAddress)
	node.Echo = true
	module.AddNode(node)

	c, out := newTestCLI(t, module)
	require.NoError(t, c.execute(context.Background(), "send", []string{"0013a200:40d4e5f6", "hello"}))

	assert.Contains(t, out.String(), "Transmit Status frame")
	assert.Contains(t, out.String(), `from 0013a20040d4e5f6: "hello"`)
	require.Len(t, node.Received(), 1)
	assert.Equal(t, []byte("hello"), node.Received()[0])
}

func TestCLI_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		cmd     string
		args    []string
	}{
		{name: "unknown command", cmd: "reboot", wantErr: errUnknownCmd},
		{name: "missing argument", cmd: "get", wantErr: errArgCount},
		{name: "extra argument", cmd: "discover", args: []string{"now"}, wantErr: errArgCount},
		{name: "too many link test arguments", cmd: "linktest", args: []string{"a", "b", "c", "d"}, wantErr: errArgCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestCLI(t, virt.NewVirtualModule())
			err := c.execute(context.Background(), tt.cmd, tt.args)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCLI_BadAddress(t *testing.T) {
	t.Parallel()

	module := virt.NewVirtualModule()
	c, _ := newTestCLI(t, module)

	err := c.execute(context.Background(), "traceroute", []string{"not-an-address"})
	require.Error(t, err)
	assert.Empty(t, module.Requests())
}

func TestCLI_Diag(t *testing.T) {
	t.Parallel()

	c, out := newTestCLI(t, virt.NewVirtualModule())
	require.NoError(t, c.execute(context.Background(), "diag", nil))

	assert.Contains(t, out.String(), "good frames")
	assert.Contains(t, out.String(), "corrupt 0")
}

func TestCLI_MonitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	module := virt.NewVirtualModule()
	module.QueueFrame(virt.BuildReceivePacket(virt.TestRemoteAddress, []byte("hi")))
	c, out := newTestCLI(t, module)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, c.execute(ctx, "monitor", nil))

	assert.Contains(t, out.String(), "node 0013a20040d4e5f6 seen")
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "radio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyUSB3\nbaud_rate: 115200\n"), 0o600))

	t.Run("profile", func(t *testing.T) {
		t.Parallel()
		cfg, err := loadConfig(&options{configPath: path, transport: "uart"})
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyUSB3", cfg.Port)
		assert.Equal(t, 115200, cfg.BaudRate)
	})

	t.Run("flags override profile", func(t *testing.T) {
		t.Parallel()
		cfg, err := loadConfig(&options{configPath: path, device: "/dev/ttyS0", baud: 57600, transport: "uart"})
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyS0", cfg.Port)
		assert.Equal(t, 57600, cfg.BaudRate)
	})

	t.Run("spi forces unescaped frames", func(t *testing.T) {
		t.Parallel()
		cfg, err := loadConfig(&options{transport: "spi", device: "SPI0.0"})
		require.NoError(t, err)
		assert.Equal(t, digimesh.APIModeUnescaped, cfg.APIMode)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := loadConfig(&options{configPath: filepath.Join(t.TempDir(), "nope.yaml")})
		require.Error(t, err)
	})
}

func TestRun_NoCommand(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &options{transport: "uart"}, nil)
	require.ErrorIs(t, err, errUsage)
}
