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

import "time"

// Write retry defaults. Only transient transport errors are retried; a
// frame is never re-sent after the module has accepted it.
const (
	// DefaultWriteRetries is the number of attempts for one frame write.
	DefaultWriteRetries = 3
	// WriteInitialBackoff is the delay before the second attempt.
	WriteInitialBackoff = 10 * time.Millisecond
	// WriteMaxBackoff caps the delay between attempts.
	WriteMaxBackoff = 200 * time.Millisecond
	// WriteBackoffMultiplier is the exponential backoff multiplier.
	WriteBackoffMultiplier = 2.0
	// WriteJitter is the random jitter factor (0.0-1.0).
	WriteJitter = 0.1
	// WriteRetryTimeout bounds all attempts together.
	WriteRetryTimeout = 2 * time.Second
)

// Connection retry defaults control how Connect opens a port.
const (
	// DefaultConnectionRetries is the number of attempts to open a port.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between open attempts.
	// USB serial adapters can take this long to re-enumerate.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between open attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all open attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Session recovery defaults, used when a poll fails with a fatal error.
const (
	// DefaultRecoveryAttempts is the number of probe/reopen rounds.
	DefaultRecoveryAttempts = 3
	// RecoveryBackoff is the delay between rounds.
	RecoveryBackoff = 500 * time.Millisecond
)

// Probe timing for identifying a module on an unknown port.
const (
	// ProbePollInterval is the delay between reads while waiting for the
	// SH/SL responses.
	ProbePollInterval = 20 * time.Millisecond
	// DefaultProbeTimeout bounds the AT exchange with one candidate port.
	DefaultProbeTimeout = 2 * time.Second
)
