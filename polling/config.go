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
	"errors"
	"fmt"
	"time"
)

// SleepRecoveryConfig configures automatic recovery after host sleep/wake
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the expected
	// poll interval that indicates a sleep occurred. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before
	// treating a fatal transport error as final. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since last poll indicates a system sleep.
// Returns true if elapsed time exceeds (pollInterval + TimeDiscontinuityThreshold).
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	expectedMax := pollInterval + cfg.TimeDiscontinuityThreshold
	return elapsed > expectedMax
}

// Config holds monitor configuration options
type Config struct {
	// PollInterval is the delay between polls while frames are arriving.
	PollInterval time.Duration `yaml:"poll_interval"`
	// IdlePollInterval is used once nothing has arrived for IdleAfter.
	// Zero keeps PollInterval.
	IdlePollInterval time.Duration `yaml:"idle_poll_interval"`
	IdleAfter        time.Duration `yaml:"idle_after"`
	// NodeLostTimeout is how long a remote node may stay silent before it
	// is reported lost. Zero never reports nodes lost.
	NodeLostTimeout time.Duration `yaml:"node_lost_timeout"`
	// StallTimeout discards a partial frame that has not grown for this
	// long. Zero keeps partial frames forever.
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// SleepRecovery configures automatic recovery after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig `yaml:"-"`
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid monitor config")

// DefaultConfig returns the default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     50 * time.Millisecond,
		IdlePollInterval: 250 * time.Millisecond,
		IdleAfter:        5 * time.Second,
		NodeLostTimeout:  30 * time.Second,
		StallTimeout:     time.Second,
		SleepRecovery:    DefaultSleepRecoveryConfig(),
	}
}

// Validate checks the intervals.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	if c.IdlePollInterval < 0 || c.IdleAfter < 0 || c.NodeLostTimeout < 0 || c.StallTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
