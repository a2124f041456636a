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

// End-to-end transaction tests through the public wire interface, driven by
// the shared link master from internal/wiretest.
package engine_test

import (
	"testing"

	"github.com/GridboxProject/go-gemm8/engine"
	"github.com/GridboxProject/go-gemm8/internal/wiretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriver(t *testing.T) *wiretest.LinkDriver {
	t.Helper()
	return wiretest.NewLinkDriver(engine.New(engine.Config{}), wiretest.DefaultTicksPerPhase)
}

func TestWire_StatusReadWhileIdle(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)
	assert.Equal(t, byte(0x01), drv.ReadRegister(engine.AddrStatus), "idle bit only")
}

func TestWire_StatusWriteRejected(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)
	ack1, ack2 := drv.WriteRegister(engine.AddrStatus, 0x00)
	assert.Equal(t, engine.RespNAK, ack1)
	assert.Equal(t, engine.RespACK, ack2)

	assert.Equal(t, byte(0x01), drv.ReadRegister(engine.AddrStatus), "status unchanged")
}

func TestWire_DimRoundTrip(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	for _, tc := range []struct {
		addr  uint8
		value uint8
	}{
		{engine.AddrDimM, 0x08},
		{engine.AddrDimN, 0x10},
		{engine.AddrDimK, 0x3F},
	} {
		ack1, ack2 := drv.WriteRegister(tc.addr, tc.value)
		require.Equal(t, engine.RespACK, ack1)
		require.Equal(t, engine.RespACK, ack2)
		assert.Equal(t, tc.value, drv.ReadRegister(tc.addr))
	}

	// The core-side outputs carry the programmed values.
	drv.Run(1)
	out := drv.LastCore()
	assert.Equal(t, uint8(0x08), out.DimM)
	assert.Equal(t, uint8(0x10), out.DimN)
	assert.Equal(t, uint8(0x3F), out.DimK)
}

func TestWire_DimHighBitsPersistButAreMaskedDownstream(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	drv.WriteRegister(engine.AddrDimM, 0xC5)
	assert.Equal(t, byte(0xC5), drv.ReadRegister(engine.AddrDimM), "full byte reads back")

	drv.Run(1)
	assert.Equal(t, uint8(0x05), drv.LastCore().DimM, "compute unit sees 6 bits")
}

func TestWire_InvalidAddress(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	assert.Equal(t, engine.RespNAK, drv.ReadRegister(0xF))

	ack1, ack2 := drv.WriteRegister(0xF, 0x55)
	assert.Equal(t, engine.RespNAK, ack1)
	assert.Equal(t, engine.RespACK, ack2)
}

func TestWire_StartHandshake(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	ack1, ack2 := drv.WriteRegister(engine.AddrControl, 0x01)
	require.Equal(t, engine.RespACK, ack1)
	require.Equal(t, engine.RespACK, ack2)

	assert.Equal(t, 1, drv.StartPulses(), "one start pulse per start write")
	assert.Zero(t, drv.ReadRegister(engine.AddrControl), "start bit auto-cleared")

	// Another start write produces another pulse.
	drv.WriteRegister(engine.AddrControl, 0x01)
	assert.Equal(t, 2, drv.StartPulses())
}

func TestWire_DoneLatchReadClear(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	drv.SetCore(false, true)
	drv.Run(4)
	assert.Equal(t, byte(0x02), drv.ReadRegister(engine.AddrStatus), "working")

	// Completion: one-tick done pulse, core returns to idle.
	drv.PulseDone()
	drv.SetCore(true, false)
	drv.Run(4)

	assert.Equal(t, byte(0x05), drv.ReadRegister(engine.AddrStatus), "idle+done")
	assert.Equal(t, byte(0x01), drv.ReadRegister(engine.AddrStatus), "done cleared by the read")
}

func TestWire_DonePulseBetweenSessionsIsNotLost(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	// Pulse done with no session in progress; the latch must hold until a
	// status read consumes it, however much later.
	drv.PulseDone()
	drv.Run(200)

	assert.Equal(t, byte(0x05), drv.ReadRegister(engine.AddrStatus))
}

func TestWire_BackToBackTransactions(t *testing.T) {
	t.Parallel()

	drv := newDriver(t)

	for i := 0; i < 16; i++ {
		v := uint8(i*3) & 0x3F
		drv.WriteRegister(engine.AddrDimM, v)
		require.Equal(t, v, drv.ReadRegister(engine.AddrDimM), "iteration %d", i)
	}
}
