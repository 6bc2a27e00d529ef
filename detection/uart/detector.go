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

// Package uart detects DigiMesh modules on serial ports. Importing it
// registers the detector with the detection package.
package uart

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-digimesh/detection"
	"github.com/ZaparooProject/go-digimesh/transport/uart"
)

// knownAdapters are USB bridges found on DigiMesh development boards and
// USB dongles.
var knownAdapters = []string{
	"0403:6015", // FTDI FT231X (Digi XBIB-U, XBee Explorer)
	"0403:6001", // FTDI FT232R (XBee USB adapters)
	"10C4:EA60", // Silicon Labs CP210x (XBee Grove boards)
}

// moduleKeywords match product strings of module adapters.
var moduleKeywords = []string{"xbee", "digi", "digimesh"}

// Replaced in tests.
var (
	listPorts     = enumerator.GetDetailedPortsList
	probeDeviceFn = probeDevice
)

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect searches for DigiMesh modules on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range filterPorts(details, opts) {
		if ctx.Err() != nil {
			break
		}
		if device, ok := d.processPort(ctx, port, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// filterPorts removes blocked and ignored ports
func filterPorts(details []*enumerator.PortDetails, opts *detection.Options) []*enumerator.PortDetails {
	var filtered []*enumerator.PortDetails
	for _, port := range details {
		if port == nil {
			continue
		}
		if detection.IsBlocked(detection.FormatVIDPID(port.VID, port.PID), opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
			continue
		}
		filtered = append(filtered, port)
	}
	return filtered
}

// processPort handles a single port's detection logic
func (*detector) processPort(ctx context.Context, port *enumerator.PortDetails,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	likely := isLikelyModule(port)
	device := createDeviceInfo(port)

	switch opts.Mode {
	case detection.Passive:
		if !likely {
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.Medium
		return device, true

	case detection.Safe, detection.Full:
		meta, ok := probeDeviceFn(ctx, port.Name, opts)
		if !ok {
			// A failed probe discards even a likely adapter: a
			// false positive would hide a real module found later.
			return detection.DeviceInfo{}, false
		}
		maps.Copy(device.Metadata, meta)
		device.Confidence = detection.High
		return device, true

	default:
		return detection.DeviceInfo{}, false
	}
}

// createDeviceInfo builds a DeviceInfo struct from port data
func createDeviceInfo(port *enumerator.PortDetails) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Name,
		Name:       detection.Describe("", port.Product, port.Name),
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}

	if vidpid := detection.FormatVIDPID(port.VID, port.PID); vidpid != "" {
		device.Metadata[detection.MetaVIDPID] = vidpid
	}
	if port.Product != "" {
		device.Metadata[detection.MetaProduct] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata[detection.MetaSerial] = port.SerialNumber
	}
	return device
}

// isLikelyModule checks the USB descriptors for a known module adapter
func isLikelyModule(port *enumerator.PortDetails) bool {
	if !port.IsUSB {
		return false
	}

	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	for _, known := range knownAdapters {
		if vidpid == known {
			return true
		}
	}

	product := strings.ToLower(port.Product)
	for _, keyword := range moduleKeywords {
		if strings.Contains(product, keyword) {
			return true
		}
	}
	return false
}

// probeDevice opens the port and queries the module once. Detection never
// retries: a port that does not answer is most likely not a module.
func probeDevice(ctx context.Context, path string, opts *detection.Options) (map[string]string, bool) {
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = detection.DefaultOptions().ProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := uart.New(path, opts.BaudRate)
	if err != nil {
		return nil, false
	}
	defer func() { _ = transport.Close() }()

	meta, err := detection.Probe(probeCtx, transport, opts.Mode, opts.APIMode)
	if err != nil {
		return nil, false
	}
	return meta, true
}
