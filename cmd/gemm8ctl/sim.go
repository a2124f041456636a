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

package main

import (
	"context"
	"sync"
	"time"

	gemm8 "github.com/GridboxProject/go-gemm8"
	"github.com/GridboxProject/go-gemm8/engine"
	"github.com/GridboxProject/go-gemm8/internal/wiretest"
)

// simWorkTransactions is how many register transactions a simulated
// computation stays in the working state before raising done.
const simWorkTransactions = 3

// simTransport drives the in-process engine model through a pin-level link
// driver, standing in for real hardware. A trivial compute model sits on
// the core side: a start pulse flips it to working, and after a few
// transactions it pulses done.
type simTransport struct {
	drv        *wiretest.LinkDriver
	mu         sync.Mutex
	seenStarts int
	workLeft   int
	connected  bool
}

func newSimTransport() *simTransport {
	drv := wiretest.NewLinkDriver(engine.New(engine.Config{}), wiretest.DefaultTicksPerPhase)
	return &simTransport{drv: drv, connected: true}
}

// stepCore advances the simulated compute unit around one transaction.
func (s *simTransport) stepCore() {
	if starts := s.drv.StartPulses(); starts > s.seenStarts {
		s.seenStarts = starts
		s.workLeft = simWorkTransactions
		s.drv.SetCore(false, true)
		return
	}
	if s.workLeft > 0 {
		s.workLeft--
		if s.workLeft == 0 {
			s.drv.SetCore(true, false)
			s.drv.PulseDone()
		}
	}
}

func (s *simTransport) ReadRegister(addr byte) (byte, error) {
	return s.ReadRegisterWithContext(context.Background(), addr)
}

func (s *simTransport) ReadRegisterWithContext(ctx context.Context, addr byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return 0, gemm8.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.stepCore()
	value := s.drv.ReadRegister(addr)
	if value == gemm8.RespNAK && addr > gemm8.MaxAddress {
		return 0, gemm8.NewNAKError("read", addr)
	}
	return value, nil
}

func (s *simTransport) WriteRegister(addr, value byte) error {
	return s.WriteRegisterWithContext(context.Background(), addr, value)
}

func (s *simTransport) WriteRegisterWithContext(ctx context.Context, addr, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return gemm8.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.stepCore()
	ack1, ack2 := s.drv.WriteRegister(addr, value)
	if ack1 == gemm8.RespNAK || ack2 != gemm8.RespACK {
		return gemm8.NewNAKError("write", addr)
	}
	return nil
}

func (s *simTransport) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (*simTransport) SetTimeout(time.Duration) error { return nil }

func (s *simTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (*simTransport) Type() gemm8.TransportType { return "sim" }

// Ensure simTransport implements gemm8.Transport
var _ gemm8.Transport = (*simTransport)(nil)
