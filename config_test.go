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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, uint16(0x7FFF), config.NetworkID)
	assert.Equal(t, APIModeEscaped, config.APIMode)
	assert.Equal(t, byte(0x00), config.APIOutput)
	assert.Equal(t, byte(0x04), config.DiscoveryOptions)
	assert.Equal(t, byte(0x52), config.LocalFrameID)
	assert.Equal(t, byte(0x01), config.RemoteFrameID)
	assert.Equal(t, byte(0x01), config.TransmitFrameID)
	assert.True(t, config.Escaped())
	require.NotNil(t, config.WriteRetry)
}

func TestParseConfig_OverridesDefaults(t *testing.T) {
	t.Parallel()

	config, err := ParseConfig([]byte(`
port: /dev/ttyUSB1
network_id: 0x1234
api_mode: 1
api_output: 1
write_retry:
  max_attempts: 5
  initial_backoff: 20ms
`))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", config.Port)
	assert.Equal(t, uint16(0x1234), config.NetworkID)
	assert.Equal(t, APIModeUnescaped, config.APIMode)
	assert.False(t, config.Escaped())
	assert.Equal(t, byte(1), config.APIOutput)
	assert.Equal(t, 9600, config.BaudRate, "unset fields keep defaults")
	assert.Equal(t, 5, config.WriteRetry.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, config.WriteRetry.InitialBackoff)
}

func TestParseConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "network id too large", yaml: "network_id: 0x8000"},
		{name: "transparent mode", yaml: "api_mode: 0"},
		{name: "bad output", yaml: "api_output: 2"},
		{name: "negative inbox", yaml: "inbox_limit: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseConfig([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := ParseConfig([]byte("network_id: [1, 2]"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "radio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baud_rate: 115200\n"), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 115200, config.BaudRate)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
