// go-gemm8
// Copyright (c) 2025 The Gridbox Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-gemm8.
//
// go-gemm8 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-gemm8 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-gemm8; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// gemm8ctl programs a GEMM8 matrix engine with a set of dimensions, starts
// a computation, and waits for the done flag. With -transport sim it runs
// entirely against the in-process engine model, which is useful for
// checking host-side tooling without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gemm8 "github.com/GridboxProject/go-gemm8"
	"github.com/GridboxProject/go-gemm8/transport/gpio"
	"github.com/GridboxProject/go-gemm8/transport/uart"
)

type config struct {
	transport string
	port      string
	sck       string
	ss        string
	mosi      string
	miso      string
	dimM      uint
	dimN      uint
	dimK      uint
	timeout   time.Duration
	debug     bool
	logFile   bool
}

// Package-level flag variables
var (
	flagTransport = flag.String("transport", "sim", "Transport to use: sim, uart or gpio")
	flagPort      = flag.String("port", "", "Serial port for the UART bridge (e.g. /dev/ttyUSB0)")
	flagSCK       = flag.String("sck", "GPIO11", "Clock pin name for the GPIO transport")
	flagSS        = flag.String("ss", "GPIO8", "Select pin name for the GPIO transport")
	flagMOSI      = flag.String("mosi", "GPIO10", "Data-in pin name for the GPIO transport")
	flagMISO      = flag.String("miso", "GPIO9", "Data-out pin name for the GPIO transport")
	flagM         = flag.Uint("m", 8, "Rows of A (1-63)")
	flagN         = flag.Uint("n", 8, "Columns of B (1-63)")
	flagK         = flag.Uint("k", 8, "Inner dimension (1-63)")
	flagTimeout   = flag.Duration("timeout", 5*time.Second, "Overall operation timeout")
	flagDebug     = flag.Bool("debug", false, "Enable debug output")
	flagLog       = flag.Bool("log", false, "Write a session log file")
)

func parseConfig() *config {
	cfg := &config{
		transport: *flagTransport,
		port:      *flagPort,
		sck:       *flagSCK,
		ss:        *flagSS,
		mosi:      *flagMOSI,
		miso:      *flagMISO,
		dimM:      *flagM,
		dimN:      *flagN,
		dimK:      *flagK,
		timeout:   *flagTimeout,
		debug:     *flagDebug,
		logFile:   *flagLog,
	}

	if cfg.debug {
		gemm8.SetDebugEnabled(true)
	}

	return cfg
}

// newTransport creates the transport selected on the command line.
func newTransport(cfg *config) (gemm8.Transport, error) {
	switch cfg.transport {
	case "sim":
		return newSimTransport(), nil
	case "uart":
		if cfg.port == "" {
			return nil, errors.New("-port is required for the uart transport")
		}
		transport, err := uart.New(cfg.port)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return transport, nil
	case "gpio":
		transport, err := gpio.New(gpio.Pins{
			SCK:  cfg.sck,
			SS:   cfg.ss,
			MOSI: cfg.mosi,
			MISO: cfg.miso,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create GPIO transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.transport)
	}
}

func run(ctx context.Context, cfg *config) error {
	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	device, err := gemm8.New(transport,
		gemm8.WithRetryConfig(gemm8.DefaultRetryConfig()),
		gemm8.WithTimeout(cfg.timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	status, err := device.StatusWithContext(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Printf("Engine status: %s\n", status)
	if status.Working {
		return gemm8.ErrBusy
	}

	m, n, k := byte(cfg.dimM), byte(cfg.dimN), byte(cfg.dimK)
	_, _ = fmt.Printf("Running %dx%dx%d...\n", m, n, k)

	started := time.Now()
	if err := device.Run(ctx, m, n, k); err != nil {
		return fmt.Errorf("computation failed: %w", err)
	}
	_, _ = fmt.Printf("Done in %v\n", time.Since(started).Round(time.Microsecond))

	rm, rn, rk, err := device.Dims()
	if err != nil {
		return err
	}
	_, _ = fmt.Printf("Programmed dimensions: m=%d n=%d k=%d\n", rm, rn, rk)

	return nil
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	if cfg.logFile {
		path, err := gemm8.InitSessionLog()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Printf("Session log: %s\n", path)
		defer func() {
			if err := gemm8.CloseSessionLog(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Failed to close session log: %v\n", err)
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
