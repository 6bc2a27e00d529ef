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

// Package spi detects DigiMesh modules on SPI ports known to periph.
// Importing it registers the detector with the detection package.
package spi

import (
	"context"
	"fmt"
	"maps"
	"runtime"

	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-digimesh/detection"
	"github.com/ZaparooProject/go-digimesh/transport/spi"
)

// apiModeSPI is the only API mode a module speaks over SPI.
const apiModeSPI = 1

// Replaced in tests.
var (
	goos          = runtime.GOOS
	listPorts     = periphPorts
	probeDeviceFn = probeDevice
)

// detector implements the Detector interface for SPI devices
type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Detect lists SPI ports. SPI has no descriptors, so passive results are
// low confidence; the other modes keep only ports whose module answers.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if goos != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}

	names, err := listPorts()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if detection.IsPathIgnored(name, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  "spi",
			Path:       name,
			Name:       fmt.Sprintf("SPI device at %s", name),
			Confidence: detection.Low,
			Metadata:   make(map[string]string),
		}

		if opts.Mode != detection.Passive {
			meta, ok := probeDeviceFn(ctx, name, opts)
			if !ok {
				continue
			}
			maps.Copy(device.Metadata, meta)
			device.Confidence = detection.High
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// periphPorts returns the names of SPI ports registered by periph's host
// drivers.
func periphPorts() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	refs := spireg.All()
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	return names, nil
}

// probeDevice opens the port without an ATTN pin and queries the module
// once.
func probeDevice(ctx context.Context, name string, opts *detection.Options) (map[string]string, bool) {
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = detection.DefaultOptions().ProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := spi.New(name, "")
	if err != nil {
		return nil, false
	}
	defer func() { _ = transport.Close() }()

	meta, err := detection.Probe(probeCtx, transport, opts.Mode, apiModeSPI)
	if err != nil {
		return nil, false
	}
	return meta, true
}
