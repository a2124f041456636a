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

package engine

// Register addresses of the GEMM8 control port. The 4-bit address space has
// sixteen slots; only these five are populated.
const (
	AddrControl uint8 = 0x0 // R/W, bit 0 starts the compute unit
	AddrStatus  uint8 = 0x1 // R only, idle/working/done
	AddrDimM    uint8 = 0x2 // R/W, low 6 bits
	AddrDimN    uint8 = 0x3 // R/W, low 6 bits
	AddrDimK    uint8 = 0x4 // R/W, low 6 bits
)

// Status register bit assignments.
const (
	statusIdle    uint8 = 1 << 0
	statusWorking uint8 = 1 << 1
	statusDone    uint8 = 1 << 2
)

const (
	controlStart uint8 = 1 << 0
	dimMask      uint8 = 0x3F
)

// regFile is the register dispatcher: five byte-wide registers plus the
// latches that implement their side effects. Address validity, writability
// and read data are pure functions of the current state; strobes and core
// handshake inputs are applied once per tick by step.
type regFile struct {
	cfg Config

	// control stores only bit 0; the remaining bits have no storage cell
	// behind them and read back as zero.
	control uint8

	// dims holds M, N, K in address order. Depending on
	// Config.TruncateDimWrites the high two bits either persist as written
	// or are forced to zero at write time. The value driven to the compute
	// unit is always masked to 6 bits.
	dims [3]uint8

	// doneLatch is set by the core's done pulse and cleared by a status
	// read. A pulse and a read landing on the same tick leave it set:
	// done notifications are never lost to a concurrent poll.
	doneLatch bool

	// idle and working mirror the core handshake lines, registered each
	// tick so that status reads reflect prior-tick state like every other
	// combinational output.
	idle    bool
	working bool

	// startPending schedules the one-tick start pulse and the control
	// auto-clear for the tick after a start write.
	startPending bool
}

// valid reports whether the address decodes to a populated register.
func (*regFile) valid(addr uint8) bool {
	return addr <= AddrDimK
}

// writable reports whether the address accepts writes. Status is the only
// populated register that does not.
func (*regFile) writable(addr uint8) bool {
	return addr <= AddrDimK && addr != AddrStatus
}

// peek returns the current contents of a register without side effects.
// Unpopulated addresses read as zero; the framer never transmits such a
// read because it NAKs invalid addresses first.
func (r *regFile) peek(addr uint8) uint8 {
	switch addr {
	case AddrControl:
		return r.control
	case AddrStatus:
		return r.status()
	case AddrDimM, AddrDimN, AddrDimK:
		return r.dims[addr-AddrDimM]
	default:
		return 0
	}
}

// status assembles the status byte from the registered core mirrors and the
// done latch. It is computed, never stored.
func (r *regFile) status() uint8 {
	var v uint8
	if r.idle {
		v |= statusIdle
	}
	if r.working {
		v |= statusWorking
	}
	if r.doneLatch {
		v |= statusDone
	}
	return v
}

// step applies one tick of side effects: the pending control auto-clear and
// start pulse, the done latch transitions, any read/write strobe from the
// framer, and the registering of the core handshake mirrors.
func (r *regFile) step(ev frameEvents, in CoreIn) CoreOut {
	// The start pulse and the control auto-clear both land exactly one
	// tick after the start write was strobed.
	start := r.startPending
	if r.startPending {
		r.control &^= controlStart
		r.startPending = false
	}

	// Read-clear first, done-set second: set wins when both arrive on the
	// same tick. Strobes for any address other than Status are a no-op
	// here, including strobes for invalid addresses.
	if ev.readStrobe && ev.addr == AddrStatus {
		r.doneLatch = false
	}
	if in.Done {
		r.doneLatch = true
	}

	if ev.writeStrobe {
		r.write(ev.addr, ev.writeData)
	}

	r.idle = in.Idle
	r.working = in.Working

	return CoreOut{
		Start: start,
		DimM:  r.dims[0] & dimMask,
		DimN:  r.dims[1] & dimMask,
		DimK:  r.dims[2] & dimMask,
	}
}

// write stores data into a register. The framer only strobes writes for
// addresses it has already validated as writable, so Status and unpopulated
// addresses are silently ignored.
func (r *regFile) write(addr, data uint8) {
	switch addr {
	case AddrControl:
		r.control = data & controlStart
		if data&controlStart != 0 {
			r.startPending = true
		}
	case AddrDimM, AddrDimN, AddrDimK:
		if r.cfg.TruncateDimWrites {
			data &= dimMask
		}
		r.dims[addr-AddrDimM] = data
	}
}
