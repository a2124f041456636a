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

// Package engine models the GEMM8 control port: a clocked two-wire serial
// slave that exposes the coprocessor's five control/status registers to an
// external controller.
//
// The model is cycle-accurate at the tick level. One call to Engine.Tick is
// one tick: the engine samples the raw link and core handshake lines,
// advances its state, and returns the levels it drives back. Execution is
// fully synchronous; every output reflects only prior-tick state plus the
// current inputs, and there is no goroutine or blocking anywhere in the
// package.
//
// Wire protocol (MSB first per byte, one transaction per select session):
//
//	READ  (2 bytes): {addr:4, op:4=0001} -> data, or 0xF0 if the address
//	                 is invalid
//	WRITE (4 bytes): {addr:4, op:4=0010} -> 0xFF if valid and writable
//	                 else 0xF0; then the data byte -> unconditional 0xFF
//
// Rejections are in-band NAK bytes, never errors: the engine always runs a
// transaction to its full byte count so the controller's framing stays
// aligned, and the next session starts clean no matter how the previous one
// ended.
package engine

// LinkIn carries the raw serial lines sampled once per tick.
type LinkIn struct {
	Clock  bool
	Select bool // true while the session is active
	DataIn bool
}

// LinkOut carries the level the engine drives back to the controller.
type LinkOut struct {
	DataOut bool
}

// CoreIn carries the handshake lines from the compute unit.
type CoreIn struct {
	Idle    bool
	Working bool
	Done    bool // one-tick completion pulse
}

// CoreOut carries the control lines driven to the compute unit. The
// dimension values persist until rewritten; Start is a one-tick pulse.
type CoreOut struct {
	Start bool
	DimM  uint8
	DimN  uint8
	DimK  uint8
}

// Config carries build-time knobs of the engine model.
type Config struct {
	// TruncateDimWrites forces the unused high two bits of the dimension
	// registers to zero at write time. The default keeps the full written
	// byte, so those bits read back as last stored. Either way the values
	// driven to the compute unit are truncated to 6 bits.
	TruncateDimWrites bool
}

// Engine is the complete control port: the link framer and the register
// file, wired together. The register file persists across sessions; only
// Reset (the hard reset line) clears it.
type Engine struct {
	cfg Config
	fr  framer
	reg regFile
}

// New returns an engine in its power-on state: all registers zero, no
// session in progress.
func New(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.reg.cfg = cfg
	return e
}

// Tick advances the engine by one tick. The framer is evaluated first,
// consulting the register file combinationally (prior-tick state) for read
// data and address flags; its strobes are then applied to the register file
// within the same tick.
func (e *Engine) Tick(link LinkIn, core CoreIn) (LinkOut, CoreOut) {
	ev := e.fr.step(link, &e.reg)
	coreOut := e.reg.step(ev, core)
	return LinkOut{DataOut: e.fr.dataOut()}, coreOut
}

// Reset is the hard reset: every piece of state, session-scoped and
// persistent, returns to its initial value.
func (e *Engine) Reset() {
	cfg := e.cfg
	*e = Engine{cfg: cfg}
	e.reg.cfg = cfg
}

// PeekRegister returns the current contents of a register without
// performing the read side effects, plus whether the address is populated.
// It exists for tests and tooling; the protocol path never uses it.
func (e *Engine) PeekRegister(addr uint8) (uint8, bool) {
	if !e.reg.valid(addr) {
		return 0, false
	}
	return e.reg.peek(addr), true
}
