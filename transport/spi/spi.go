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

// Package spi connects a DigiMesh module through its SPI slave port.
//
// The module only speaks unescaped API frames over SPI, so sessions on this
// transport must use API mode 1. The module pulls ATTN low while it has
// data to send; without an ATTN pin the transport probes by clocking idle
// bytes.
package spi

import (
	"bytes"
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	digimesh "github.com/ZaparooProject/go-digimesh"
	"github.com/ZaparooProject/go-digimesh/internal/frame"
	"github.com/ZaparooProject/go-digimesh/internal/syncutil"
)

const (
	// Default SPI settings
	defaultFreq = 1 * physic.MegaHertz
	mode        = spi.Mode0 // CPOL=0, CPHA=0, MSB first

	// idleByte is clocked out when the host has nothing to send, and is
	// what the module returns when it has nothing to say.
	idleByte = 0xFF
	// probeBytes are clocked per probe when there is no ATTN pin.
	probeBytes = 4
	// maxFramesPerRead bounds one ReadAvailable.
	maxFramesPerRead = 32
)

// ReadyPin is the module's ATTN line: low while it has data to send.
// gpio.PinIn satisfies it.
type ReadyPin interface {
	Read() gpio.Level
}

// Transport implements the digimesh.Transport interface for SPI communication
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	attn     ReadyPin
	portName string
	// rx holds bytes clocked in but not yet returned, including bytes the
	// module sent while the host was writing.
	rx []byte
	mu syncutil.Mutex
}

// New opens the SPI port portName. attnPin names the GPIO wired to the
// module's ATTN line; empty means no ATTN pin.
func New(portName, attnPin string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	transport := &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
	}

	if attnPin != "" {
		pin := gpioreg.ByName(attnPin)
		if pin == nil {
			_ = port.Close()
			return nil, fmt.Errorf("ATTN pin %s not found", attnPin)
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to configure ATTN pin %s: %w", attnPin, err)
		}
		transport.attn = pin
	}

	return transport, nil
}

// NewWithConn creates a transport on an already connected SPI conn.
func NewWithConn(conn spi.Conn, attn ReadyPin, name string) *Transport {
	return &Transport{conn: conn, attn: attn, portName: name}
}

// Write clocks out one frame. Bytes the module sends at the same time are
// kept for the next ReadAvailable.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return digimesh.NewTransportClosedError("write", t.portName)
	}

	rx := make([]byte, len(data))
	if err := t.conn.Tx(data, rx); err != nil {
		return digimesh.NewTransportError("write", t.portName,
			fmt.Errorf("SPI write failed: %w", err), digimesh.ErrorTypeTransient)
	}
	t.keep(rx)
	return nil
}

// ReadAvailable clocks in every frame the module has ready.
func (t *Transport) ReadAvailable(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, digimesh.NewTransportClosedError("read", t.portName)
	}

	var out []byte
	for range maxFramesPerRead {
		raw, err := t.nextFrame()
		if err != nil {
			return out, err
		}
		if raw == nil {
			break
		}
		out = append(out, raw...)
	}
	return out, nil
}

// nextFrame returns the next complete frame, or nil when the module has
// nothing to send.
func (t *Transport) nextFrame() ([]byte, error) {
	if bytes.IndexByte(t.rx, frame.StartDelimiter) < 0 {
		t.rx = t.rx[:0]
		if !t.moduleReady() {
			return nil, nil
		}
		if err := t.clockIn(probeBytes); err != nil {
			return nil, err
		}
		start := bytes.IndexByte(t.rx, frame.StartDelimiter)
		if start < 0 {
			t.rx = t.rx[:0]
			return nil, nil
		}
	}
	t.rx = t.rx[bytes.IndexByte(t.rx, frame.StartDelimiter):]

	if len(t.rx) < frame.HeaderLength {
		if err := t.clockIn(frame.HeaderLength - len(t.rx)); err != nil {
			return nil, err
		}
	}
	total, _ := frame.ExpectedLength(t.rx)
	if len(t.rx) < total {
		if err := t.clockIn(total - len(t.rx)); err != nil {
			return nil, err
		}
	}

	raw := bytes.Clone(t.rx[:total])
	t.rx = t.rx[total:]
	return raw, nil
}

// moduleReady reports whether it is worth clocking: ATTN is low, or there
// is no ATTN pin to ask.
func (t *Transport) moduleReady() bool {
	return t.attn == nil || t.attn.Read() == gpio.Low
}

// clockIn reads n bytes while sending idle bytes.
func (t *Transport) clockIn(n int) error {
	w := bytes.Repeat([]byte{idleByte}, n)
	r := make([]byte, n)
	if err := t.conn.Tx(w, r); err != nil {
		return digimesh.NewTransportError("read", t.portName,
			fmt.Errorf("SPI read failed: %w", err), digimesh.ErrorTypeTransient)
	}
	t.rx = append(t.rx, r...)
	return nil
}

// keep stores bytes received during a write, dropping leading idle bytes.
func (t *Transport) keep(rx []byte) {
	if len(t.rx) == 0 {
		start := bytes.IndexByte(rx, frame.StartDelimiter)
		if start < 0 {
			return
		}
		rx = rx[start:]
	}
	t.rx = append(t.rx, rx...)
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn = nil
	t.rx = nil
	if t.port != nil {
		err := t.port.Close()
		t.port = nil
		if err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Type returns the transport type
func (*Transport) Type() digimesh.TransportType {
	return digimesh.TransportSPI
}

var _ digimesh.Transport = (*Transport)(nil)
