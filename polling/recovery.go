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
	"time"

	digimesh "github.com/ZaparooProject/go-digimesh"
	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

// SessionRecoverer handles session recovery after sleep/wake or fatal
// transport errors
type SessionRecoverer interface {
	// AttemptRecovery tries to bring the session back.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context) error

	// GetSession returns the current session (may change after reconnection)
	GetSession() *digimesh.Session
}

// ReopenFunc opens a fresh session, typically on a newly opened port
type ReopenFunc func() (*digimesh.Session, error)

// DefaultRecoverer implements a tiered recovery strategy:
// 1. Flush the stream and probe the module with a local SH query
// 2. Full reconnection via user-provided reopen function
type DefaultRecoverer struct {
	session     *digimesh.Session
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer with tiered recovery strategy.
// If reopenFunc is nil, only the soft probe will be attempted.
func NewDefaultRecoverer(
	session *digimesh.Session,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = digimesh.DefaultRecoveryAttempts
	}
	if backoff <= 0 {
		backoff = digimesh.RecoveryBackoff
	}
	return &DefaultRecoverer{
		session:     session,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery implements tiered recovery:
// 1. Reset input and send a local SH query - works if the port is still valid
// 2. If that fails and reopenFunc is provided, try full reconnection
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error

	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		// Tier 1: flush and probe
		err := r.probe(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Tier 2: Full reconnection (if reopenFunc provided)
		if r.reopenFunc != nil {
			_ = r.session.Close()
			session, reopenErr := r.reopenFunc()
			if reopenErr == nil {
				r.session = session
				return nil
			}
			lastErr = reopenErr
		}
	}

	return lastErr
}

func (r *DefaultRecoverer) probe(ctx context.Context) error {
	if err := r.session.ResetInput(); err != nil {
		return err
	}
	_, err := r.session.GetLocalRegister(ctx, digimesh.CmdSerialHigh)
	return err
}

// GetSession returns the current session.
// This may return a different session after a successful reconnection.
func (r *DefaultRecoverer) GetSession() *digimesh.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}
