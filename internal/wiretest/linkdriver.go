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

// Package wiretest provides test utilities for the GEMM8 control port: a
// tick-level link master that bit-bangs transactions against an
// engine.Engine, and a VirtualBridge that speaks the serial register bridge
// framing over io.ReadWriter so transport tests can run against the real
// engine through mock ports.
package wiretest

import "github.com/GridboxProject/go-gemm8/engine"

// MinTicksPerPhase is the shortest clock half-period (in ticks) at which
// the engine's two-tick input synchronizers settle before the master
// samples. Shorter phases outrun the synchronizer delay.
const MinTicksPerPhase = 3

// DefaultTicksPerPhase leaves one tick of slack over the minimum.
const DefaultTicksPerPhase = 4

// LinkDriver drives an engine.Engine at the pin level, acting as the
// controller side of the link: mode-0 clocking, MSB first, one transaction
// per select session. It also owns the core handshake lines so tests can
// play the compute unit.
type LinkDriver struct {
	eng *engine.Engine

	link engine.LinkIn
	core engine.CoreIn

	lastLink engine.LinkOut
	lastCore engine.CoreOut

	ticksPerPhase int
	startPulses   int
	ticks         uint64
}

// NewLinkDriver returns a driver with the link idle (select inactive, clock
// low) and the core reporting idle. ticksPerPhase below MinTicksPerPhase is
// raised to the default.
func NewLinkDriver(eng *engine.Engine, ticksPerPhase int) *LinkDriver {
	if ticksPerPhase < MinTicksPerPhase {
		ticksPerPhase = DefaultTicksPerPhase
	}
	d := &LinkDriver{
		eng:           eng,
		ticksPerPhase: ticksPerPhase,
	}
	d.core.Idle = true
	return d
}

// Run advances the engine n ticks with the current line levels, counting
// start pulses and recording the most recent outputs.
func (d *LinkDriver) Run(n int) {
	for i := 0; i < n; i++ {
		linkOut, coreOut := d.eng.Tick(d.link, d.core)
		d.lastLink = linkOut
		d.lastCore = coreOut
		if coreOut.Start {
			d.startPulses++
		}
		d.ticks++
	}
}

// SetCore sets the idle/working handshake lines for subsequent ticks.
func (d *LinkDriver) SetCore(idle, working bool) {
	d.core.Idle = idle
	d.core.Working = working
}

// PulseDone asserts the done line for exactly one tick.
func (d *LinkDriver) PulseDone() {
	d.core.Done = true
	d.Run(1)
	d.core.Done = false
}

// BeginSession asserts select and waits for the engine to see it.
func (d *LinkDriver) BeginSession() {
	d.link.Select = true
	d.link.Clock = false
	d.Run(d.ticksPerPhase)
}

// EndSession deasserts select and waits for the session reset to land.
func (d *LinkDriver) EndSession() {
	d.link.Select = false
	d.link.Clock = false
	d.link.DataIn = false
	d.Run(d.ticksPerPhase)
}

// ShiftByte clocks one byte across the link, MSB first, returning the byte
// the engine shifted back. The data-out line is sampled at the end of each
// low phase, just before the rising edge, as a mode-0 master does.
func (d *LinkDriver) ShiftByte(tx byte) byte {
	var rx byte
	for i := 7; i >= 0; i-- {
		d.link.DataIn = tx&(1<<uint(i)) != 0
		d.link.Clock = false
		d.Run(d.ticksPerPhase)

		rx <<= 1
		if d.lastLink.DataOut {
			rx |= 1
		}

		d.link.Clock = true
		d.Run(d.ticksPerPhase)
	}
	return rx
}

// ReadRegister runs a complete 2-byte READ transaction and returns the
// response byte (register data, or the NAK code for invalid addresses).
func (d *LinkDriver) ReadRegister(addr byte) byte {
	d.BeginSession()
	d.ShiftByte(addr<<4 | engine.OpRead)
	resp := d.ShiftByte(0x00)
	d.EndSession()
	return resp
}

// WriteRegister runs a complete 4-byte WRITE transaction and returns both
// response bytes: the accept/reject byte from slot 1 and the unconditional
// closing ACK from slot 3. The data byte is shifted even after a NAK so the
// transaction keeps its fixed length.
func (d *LinkDriver) WriteRegister(addr, value byte) (ack1, ack2 byte) {
	d.BeginSession()
	d.ShiftByte(addr<<4 | engine.OpWrite)
	ack1 = d.ShiftByte(0x00)
	d.ShiftByte(value)
	ack2 = d.ShiftByte(0x00)
	d.EndSession()
	return ack1, ack2
}

// StartPulses returns how many one-tick start pulses the engine has emitted
// since construction.
func (d *LinkDriver) StartPulses() int {
	return d.startPulses
}

// LastCore returns the core-side outputs from the most recent tick.
func (d *LinkDriver) LastCore() engine.CoreOut {
	return d.lastCore
}

// Ticks returns the total number of ticks run so far.
func (d *LinkDriver) Ticks() uint64 {
	return d.ticks
}
