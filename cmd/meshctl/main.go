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

// Command meshctl drives a DigiMesh module from the command line.
//
//	meshctl [flags] detect
//	meshctl [flags] configure
//	meshctl [flags] get ID
//	meshctl [flags] set NI 6e6f646531
//	meshctl [flags] send 0013a20040d4e5f6 hello
//	meshctl [flags] broadcast hello
//	meshctl [flags] neighbors [dest]
//	meshctl [flags] discover
//	meshctl [flags] linktest sender dest [iterations]
//	meshctl [flags] traceroute dest
//	meshctl [flags] diag
//	meshctl [flags] monitor
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	digimesh "github.com/ZaparooProject/go-digimesh"
	"github.com/ZaparooProject/go-digimesh/detection"
	_ "github.com/ZaparooProject/go-digimesh/detection/spi"
	_ "github.com/ZaparooProject/go-digimesh/detection/uart"
	"github.com/ZaparooProject/go-digimesh/metrics"
	"github.com/ZaparooProject/go-digimesh/transport/spi"
	"github.com/ZaparooProject/go-digimesh/transport/uart"
)

type options struct {
	configPath  string
	device      string
	transport   string
	attnPin     string
	metricsAddr string
	logDir      string
	baud        int
	wait        time.Duration
	lostTimeout time.Duration
	debug       bool
}

// Package-level flag variables
var flagOpts options

func init() {
	flag.StringVar(&flagOpts.configPath, "config", "", "YAML radio profile")
	flag.StringVar(&flagOpts.device, "device", "", "Device path (auto-detect if empty)")
	flag.StringVar(&flagOpts.transport, "transport", "uart", "Transport: uart or spi")
	flag.StringVar(&flagOpts.attnPin, "attn", "", "GPIO wired to the module's ATTN line (spi only)")
	flag.StringVar(&flagOpts.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flag.StringVar(&flagOpts.logDir, "log-dir", "", "Write a session log with every frame to this directory")
	flag.IntVar(&flagOpts.baud, "baud", 0, "Serial speed (profile value if zero)")
	flag.DurationVar(&flagOpts.wait, "wait", 2*time.Second, "How long to collect responses after a request")
	flag.DurationVar(&flagOpts.lostTimeout, "lost-timeout", 30*time.Second, "Monitor: report nodes silent this long as lost")
	flag.BoolVar(&flagOpts.debug, "debug", false, "Enable debug output")
}

// loadConfig reads the radio profile and applies flag overrides.
func loadConfig(opts *options) (*digimesh.Config, error) {
	cfg := digimesh.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := digimesh.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.device != "" {
		cfg.Port = opts.device
	}
	if opts.baud > 0 {
		cfg.BaudRate = opts.baud
	}
	if opts.transport == "spi" {
		// SPI only carries unescaped frames.
		cfg.APIMode = digimesh.APIModeUnescaped
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// detectPort returns the first module that answered a probe.
func detectPort(ctx context.Context, opts *options, cfg *digimesh.Config) (string, error) {
	detectOpts := detection.DefaultOptions()
	detectOpts.Transports = []string{opts.transport}
	detectOpts.BaudRate = cfg.BaudRate
	detectOpts.APIMode = cfg.APIMode

	devices, err := detection.DetectAll(ctx, &detectOpts)
	if err != nil {
		return "", fmt.Errorf("auto-detection failed: %w", err)
	}
	for _, d := range devices {
		if d.Confidence == detection.High {
			digimesh.Debugf("using %s", d)
			return d.Path, nil
		}
	}
	return "", detection.ErrNoDevicesFound
}

// transportFactory returns the opener for the selected transport.
func transportFactory(opts *options, cfg *digimesh.Config) (digimesh.TransportFactory, error) {
	switch opts.transport {
	case "uart":
		return func(path string) (digimesh.Transport, error) {
			transport, err := uart.New(path, cfg.BaudRate)
			if err != nil {
				return nil, fmt.Errorf("failed to create UART transport: %w", err)
			}
			return transport, nil
		}, nil
	case "spi":
		return func(path string) (digimesh.Transport, error) {
			transport, err := spi.New(path, opts.attnPin)
			if err != nil {
				return nil, fmt.Errorf("failed to create SPI transport: %w", err)
			}
			return transport, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", opts.transport)
	}
}

func runDetect(ctx context.Context, opts *options, cfg *digimesh.Config) error {
	detectOpts := detection.DefaultOptions()
	detectOpts.Transports = []string{opts.transport}
	detectOpts.BaudRate = cfg.BaudRate
	detectOpts.APIMode = cfg.APIMode
	detectOpts.EnableCache = false

	devices, err := detection.DetectAll(ctx, &detectOpts)
	if err != nil {
		return err
	}
	for _, d := range devices {
		_, _ = fmt.Println(d)
	}
	return nil
}

// serveMetrics starts the exporter and returns its shutdown function.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func run(ctx context.Context, opts *options, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if args[0] == "detect" {
		return runDetect(ctx, opts, cfg)
	}

	factory, err := transportFactory(opts, cfg)
	if err != nil {
		return err
	}
	path := cfg.Port
	if path == "" {
		if path, err = detectPort(ctx, opts, cfg); err != nil {
			return err
		}
	}

	sessionOpts := []digimesh.Option{digimesh.WithConfig(cfg)}
	var collector *metrics.Collector
	if opts.metricsAddr != "" {
		reg := metrics.NewRegistry()
		collector = metrics.New(reg)
		sessionOpts = append(sessionOpts, digimesh.WithObserver(collector))
		defer serveMetrics(opts.metricsAddr, reg)()
	}

	connect := func() (*digimesh.Session, error) {
		return digimesh.Connect(ctx, path,
			digimesh.WithTransportFactory(factory),
			digimesh.WithSessionOptions(sessionOpts...),
		)
	}
	session, err := connect()
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	c := &cli{
		session:     session,
		reopen:      connect,
		collector:   collector,
		out:         os.Stdout,
		wait:        opts.wait,
		lostTimeout: opts.lostTimeout,
	}
	return c.execute(ctx, args[0], args[1:])
}

func main() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "usage: meshctl [flags] command [args]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	os.Exit(mainWithExitCode(&flagOpts, flag.Args()))
}

func mainWithExitCode(opts *options, args []string) int {
	if opts.debug {
		digimesh.SetDebugEnabled(true)
	}
	if opts.logDir != "" {
		path, err := digimesh.InitSessionLog(opts.logDir)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		digimesh.Debugf("session log: %s", path)
		defer func() { _ = digimesh.CloseSessionLog() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, opts, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		if errors.Is(err, errUsage) {
			flag.Usage()
			return 2
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
