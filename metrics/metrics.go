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

// Package metrics exports session activity to Prometheus. A Collector is a
// digimesh.Observer; pass it to digimesh.WithObserver.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	digimesh "github.com/ZaparooProject/go-digimesh"
)

const namespace = "digimesh"

// NewRegistry creates a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Collector holds the session metrics
type Collector struct {
	FramesSent     *prometheus.CounterVec // labels: type
	FramesReceived *prometheus.CounterVec // labels: type, result=ok|unknown|short_payload|empty
	FramesRejected *prometheus.CounterVec // labels: reason
	GoodFrames     prometheus.Gauge
	Timeouts       prometheus.Gauge
	TransmitErrors prometheus.Gauge
	LastRSSI       prometheus.Gauge
	NodesPresent   prometheus.Gauge
}

// New registers the session metrics on reg
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "API frames written to the module, by frame type.",
		}, []string{"type"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Checksum-valid frames received, by frame type and decode result.",
		}, []string{"type", "result"}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Candidate frames dropped by the reassembler, by reason.",
		}, []string{"reason"}),
		GoodFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "good_frames",
			Help:      "Acknowledged transmissions (GD).",
		}),
		Timeouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mac_ack_timeouts",
			Help:      "MAC ACK timeouts reported by the module (EA).",
		}),
		TransmitErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transmit_errors",
			Help:      "Failed transmissions (TR).",
		}),
		LastRSSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_rssi_dbm",
			Help:      "Signal strength of the last received packet.",
		}),
		NodesPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_present",
			Help:      "Remote nodes heard within the monitor's lost timeout.",
		}),
	}
	reg.MustRegister(c.FramesSent, c.FramesReceived, c.FramesRejected,
		c.GoodFrames, c.Timeouts, c.TransmitErrors, c.LastRSSI, c.NodesPresent)
	return c
}

// FrameSent implements digimesh.Observer.
func (c *Collector) FrameSent(t digimesh.FrameType) {
	c.FramesSent.WithLabelValues(typeLabel(t)).Inc()
}

// FrameReceived implements digimesh.Observer.
func (c *Collector) FrameReceived(d digimesh.Decoded) {
	c.FramesReceived.WithLabelValues(typeLabel(d.Type), decodeResult(d)).Inc()
}

// FrameRejected implements digimesh.Observer.
func (c *Collector) FrameRejected(r digimesh.Rejection) {
	c.FramesRejected.WithLabelValues(rejectReason(r.Err)).Inc()
}

// DiagnosticsUpdated implements digimesh.Observer.
func (c *Collector) DiagnosticsUpdated(d digimesh.Diagnostics) {
	c.GoodFrames.Set(float64(d.GoodFrames))
	c.Timeouts.Set(float64(d.Timeouts))
	c.TransmitErrors.Set(float64(d.TransmitErrors))
	if d.HasRSSI {
		c.LastRSSI.Set(float64(d.LastRSSI))
	}
}

// NodeSeen and NodeLost track node presence; wire them to the polling
// monitor callbacks.
func (c *Collector) NodeSeen(digimesh.NodeAddress) { c.NodesPresent.Inc() }

func (c *Collector) NodeLost(digimesh.NodeAddress) { c.NodesPresent.Dec() }

func typeLabel(t digimesh.FrameType) string {
	return fmt.Sprintf("0x%02x", byte(t))
}

func decodeResult(d digimesh.Decoded) string {
	switch {
	case d.Valid():
		return "ok"
	case d.Unknown():
		return "unknown"
	case errors.Is(d.Err, digimesh.ErrShortPayload):
		return "short_payload"
	case errors.Is(d.Err, digimesh.ErrEmptyFrame):
		return "empty"
	default:
		return "error"
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, digimesh.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, digimesh.ErrLengthMismatch):
		return "length"
	case errors.Is(err, digimesh.ErrFrameTooShort):
		return "too_short"
	case errors.Is(err, digimesh.ErrEmptyFrame):
		return "empty"
	default:
		return "other"
	}
}

var _ digimesh.Observer = (*Collector)(nil)
