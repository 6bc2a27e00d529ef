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

package detection

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	digimesh "github.com/ZaparooProject/go-digimesh"
)

// probeCommands returns the registers read in mode.
func probeCommands(mode Mode) []digimesh.ATCommand {
	cmds := []digimesh.ATCommand{digimesh.CmdSerialHigh, digimesh.CmdSerialLow}
	if mode == Full {
		cmds = append(cmds, digimesh.CmdNetworkID, digimesh.CmdAPIMode, digimesh.CmdNodeType)
	}
	return cmds
}

// Probe asks the module behind transport for the registers mode calls for
// and returns them as DeviceInfo metadata. It makes a single attempt; the
// caller owns and closes the transport. Passive mode never probes.
func Probe(ctx context.Context, transport digimesh.Transport, mode Mode, apiMode byte) (map[string]string, error) {
	if mode == Passive {
		return nil, fmt.Errorf("probe: %s mode does not talk to modules", mode)
	}

	cfg := digimesh.DefaultConfig()
	cfg.APIMode = apiMode
	cfg.WriteRetry = nil
	session, err := digimesh.New(transport, digimesh.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	cmds := probeCommands(mode)
	for _, cmd := range cmds {
		if _, err := session.GetLocalRegister(ctx, cmd); err != nil {
			return nil, fmt.Errorf("probe %s: %w", cmd, err)
		}
	}

	for {
		if _, err := session.Poll(ctx); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		if meta, ok := probeMetadata(session, cmds); ok {
			return meta, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrDetectionTimeout, ctx.Err())
		case <-time.After(digimesh.ProbePollInterval):
		}
	}
}

// probeMetadata reports whether every register in cmds is known, and the
// metadata they describe.
func probeMetadata(session *digimesh.Session, cmds []digimesh.ATCommand) (map[string]string, bool) {
	meta := make(map[string]string, len(cmds))
	for _, cmd := range cmds {
		value, ok := session.Register(cmd)
		if !ok {
			return nil, false
		}
		switch cmd {
		case digimesh.CmdNetworkID:
			meta[MetaNetworkID] = hex.EncodeToString(value)
		case digimesh.CmdAPIMode:
			meta[MetaAPIMode] = hex.EncodeToString(value)
		case digimesh.CmdNodeType:
			meta[MetaNodeType] = hex.EncodeToString(value)
		}
	}

	local, ok := session.LocalAddress()
	if !ok {
		return nil, false
	}
	meta[MetaAddress] = local.String()
	return meta, true
}
