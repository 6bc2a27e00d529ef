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
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the radio profile applied by Configure and the frame IDs and
// limits used by a Session.
type Config struct {
	// WriteRetry configures retries of transient write failures. Nil
	// disables the retry wrapper.
	WriteRetry *RetryConfig `yaml:"write_retry"`
	// Port is the serial device; used by the command line tool only.
	Port string `yaml:"port"`
	// BaudRate is the serial speed; used by the command line tool only.
	BaudRate int `yaml:"baud_rate"`
	// TraceDepth is the number of frames kept for TraceableError.
	TraceDepth int `yaml:"trace_depth"`
	// InboxLimit caps the inbox; the oldest frames are dropped first.
	// Zero means unlimited.
	InboxLimit int `yaml:"inbox_limit"`
	// NetworkID is written to ID (0x0000-0x7FFF).
	NetworkID uint16 `yaml:"network_id"`
	// APIMode is written to AP: 1 unescaped, 2 escaped.
	APIMode byte `yaml:"api_mode"`
	// APIOutput is written to AO: 0 standard, 1 explicit receive frames.
	APIOutput byte `yaml:"api_output"`
	// DiscoveryOptions is written to NO.
	DiscoveryOptions byte `yaml:"discovery_options"`
	// LocalFrameID, RemoteFrameID and TransmitFrameID are the frame IDs of
	// outgoing requests; zero suppresses the module's response.
	LocalFrameID    byte `yaml:"local_frame_id"`
	RemoteFrameID   byte `yaml:"remote_frame_id"`
	TransmitFrameID byte `yaml:"transmit_frame_id"`
	// BroadcastRadius is the hop limit of transmit requests; zero uses BH.
	BroadcastRadius byte `yaml:"broadcast_radius"`
}

// DefaultConfig returns the default radio profile
func DefaultConfig() *Config {
	return &Config{
		WriteRetry:       DefaultRetryConfig(),
		BaudRate:         9600,
		TraceDepth:       16,
		InboxLimit:       256,
		NetworkID:        0x7FFF,
		APIMode:          APIModeEscaped,
		APIOutput:        0x00,
		DiscoveryOptions: 0x04,
		LocalFrameID:     DefaultLocalFrameID,
		RemoteFrameID:    DefaultRemoteFrameID,
		TransmitFrameID:  DefaultTransmitFrameID,
	}
}

// Validate checks the register values against their allowed ranges.
func (c *Config) Validate() error {
	if c.NetworkID > 0x7FFF {
		return fmt.Errorf("%w: network_id 0x%04X exceeds 0x7FFF", ErrInvalidConfig, c.NetworkID)
	}
	if c.APIMode != APIModeUnescaped && c.APIMode != APIModeEscaped {
		return fmt.Errorf("%w: api_mode must be 1 or 2, got %d", ErrInvalidConfig, c.APIMode)
	}
	if c.APIOutput > 1 {
		return fmt.Errorf("%w: api_output must be 0 or 1, got %d", ErrInvalidConfig, c.APIOutput)
	}
	if c.TraceDepth < 0 || c.InboxLimit < 0 || c.BaudRate < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}

// Escaped reports whether APIMode selects escaping.
func (c *Config) Escaped() bool {
	return c.APIMode == APIModeEscaped
}

// LoadConfig reads a YAML radio profile. Fields missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML radio profile over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
