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
	"time"

	digimesh "github.com/ZaparooProject/go-digimesh"
)

// NodeState tracks a remote node heard through the attached module
type NodeState struct {
	FirstSeen time.Time
	LastSeen  time.Time
	lostTimer *time.Timer
	Address   digimesh.NodeAddress
	Frames    int64
	// generation changes on every sighting so a stale lost timer can tell
	// it was overtaken.
	generation uint64
	Present    bool
}

// safeTimerStop safely stops a timer and drains its channel to prevent resource leaks
func safeTimerStop(timer *time.Timer) {
	if timer != nil {
		stopped := timer.Stop()
		// If Stop() returned false, the timer already fired and the value was sent to C
		if !stopped {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Seen records a frame from the node and restarts its lost timer. It
// returns the generation the timer callback must present to MarkLost.
func (ns *NodeState) Seen(now time.Time, timeout time.Duration, onLost func(generation uint64)) uint64 {
	if !ns.Present {
		ns.Present = true
		if ns.FirstSeen.IsZero() {
			ns.FirstSeen = now
		}
	}
	ns.LastSeen = now
	ns.Frames++
	ns.generation++

	safeTimerStop(ns.lostTimer)
	ns.lostTimer = nil
	if timeout > 0 && onLost != nil {
		gen := ns.generation
		ns.lostTimer = time.AfterFunc(timeout, func() { onLost(gen) })
	}
	return ns.generation
}

// MarkLost clears Present if generation is still current. It reports
// whether the node was lost by this call.
func (ns *NodeState) MarkLost(generation uint64) bool {
	if !ns.Present || generation != ns.generation {
		return false
	}
	ns.Present = false
	safeTimerStop(ns.lostTimer)
	ns.lostTimer = nil
	return true
}

// Stop cancels the lost timer.
func (ns *NodeState) Stop() {
	safeTimerStop(ns.lostTimer)
	ns.lostTimer = nil
}

// snapshot returns a copy without the timer.
func (ns *NodeState) snapshot() NodeState {
	c := *ns
	c.lostTimer = nil
	return c
}

// sourceOf returns the remote node a frame came from, if it names one.
func sourceOf(msg digimesh.Message) (digimesh.NodeAddress, bool) {
	switch m := msg.(type) {
	case *digimesh.ReceivePacket:
		return m.Source, true
	case *digimesh.ExplicitRxIndicator:
		return m.Source, true
	case *digimesh.RemoteATResponse:
		// A transmission failure means the node did not answer.
		return m.Source, m.Status != digimesh.ATStatusTxFailure
	default:
		return digimesh.NodeAddress{}, false
	}
}
