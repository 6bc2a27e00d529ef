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
	"context"
	"errors"
	"fmt"
)

// ErrNoTransportFactory is returned by Connect when no factory was given.
var ErrNoTransportFactory = errors.New("no transport factory configured")

// TransportFactory opens a transport on path.
type TransportFactory func(path string) (Transport, error)

// ConnectOption represents a functional option for Connect
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	transportFactory TransportFactory
	retry            *RetryConfig
	sessionOptions   []Option
	configure        bool
}

// WithTransportFactory sets the function that opens the port.
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithSessionOptions adds options applied to the new session.
func WithSessionOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.sessionOptions = append(c.sessionOptions, opts...)
		return nil
	}
}

// WithConnectionRetries sets the number of attempts to open the port
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.retry.MaxAttempts = maxAttempts
		return nil
	}
}

// WithConfigureOnConnect makes Connect apply the radio profile once the
// session is open.
func WithConfigureOnConnect() ConnectOption {
	return func(c *connectConfig) error {
		c.configure = true
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		retry: &RetryConfig{
			MaxAttempts:       DefaultConnectionRetries,
			InitialBackoff:    ConnectionInitialBackoff,
			MaxBackoff:        ConnectionMaxBackoff,
			BackoffMultiplier: ConnectionBackoffMultiplier,
			Jitter:            ConnectionJitter,
			RetryTimeout:      ConnectionRetryTimeout,
		},
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}
	return config, nil
}

// openWithRetry opens path, retrying while the port is unavailable.
func openWithRetry(ctx context.Context, path string, config *connectConfig) (Transport, error) {
	var transport Transport
	err := RetryWithConfig(ctx, config.retry, func() error {
		t, err := config.transportFactory(path)
		if err != nil {
			return NewTransportError("open", path, err, ErrorTypeTransient)
		}
		transport = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s after %d attempts: %w", path, config.retry.MaxAttempts, err)
	}
	return transport, nil
}

// Connect opens path with the configured factory and starts a session on
// it. Opening is retried; session setup and Configure are not.
//
// Example usage:
//
//	session, err := digimesh.Connect(ctx, "/dev/ttyUSB0",
//		digimesh.WithTransportFactory(func(path string) (digimesh.Transport, error) {
//			return uart.New(path, 9600)
//		}),
//		digimesh.WithConfigureOnConnect(),
//	)
func Connect(ctx context.Context, path string, opts ...ConnectOption) (*Session, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}
	if config.transportFactory == nil {
		return nil, ErrNoTransportFactory
	}
	if path == "" {
		return nil, declined("Connect", ErrInvalidParameter, "empty port path")
	}

	transport, err := openWithRetry(ctx, path, config)
	if err != nil {
		return nil, err
	}

	session, err := New(transport, config.sessionOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if config.configure {
		if err := session.Configure(ctx); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("failed to configure module: %w", err)
		}
	}
	return session, nil
}
