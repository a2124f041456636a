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

// Opcodes carried in the low nibble of the command byte. Anything else is
// an invalid opcode and NAKs.
const (
	OpRead  uint8 = 0x1
	OpWrite uint8 = 0x2
)

// Reserved response bytes. The protocol reserves these two values; register
// contents are otherwise unconstrained.
const (
	RespACK uint8 = 0xFF
	RespNAK uint8 = 0xF0
)

// Byte-slot indices within a session. READ transactions stop after slot 1,
// WRITE transactions run through slot 3; the sequencer itself is
// free-running and keeps answering 0x00 beyond that until select drops.
const (
	slotCommand  = 0 // command byte from the controller
	slotResponse = 1 // data or first ACK/NAK back to the controller
	slotData     = 2 // write data from the controller
	slotAck      = 3 // unconditional ACK closing a write
)

// frameEvents are the strobes the framer hands to the register file on the
// tick they occur. Both strobes are single-tick pulses.
type frameEvents struct {
	addr        uint8
	writeData   uint8
	readStrobe  bool
	writeStrobe bool
}

// framer recovers bytes from the serial lines and drives the ACK/NAK
// response protocol. All fields below the synchronizers are session state
// and reset the instant the synchronized select line goes inactive.
type framer struct {
	clk synchro
	sel synchro
	din synchro

	selLevel bool

	bitPos      uint8 // bit position within the byte under assembly, mod 8
	accum       uint8 // byte accumulator, MSB first
	slot        uint8 // byte-slot index, free-running
	pendingByte uint8 // completed byte awaiting the byte-complete event
	byteDone    bool  // byte-complete fires one tick after the 8th bit

	// Decoded command, snapshotted at the end of slot 0 so later queries
	// in the same session are insulated from address-line glitches.
	cmdAddr      uint8
	cmdOp        uint8
	addrValid    bool
	addrWritable bool

	txByte   uint8 // byte being shifted out during the current slot
	txBitIdx uint8 // 7..0, decremented on confirmed falling clock edges
	txReload bool  // next falling edge reloads txBitIdx instead of decrementing
}

// resetSession returns all session-scoped state to its initial values. The
// synchronizers are deliberately untouched: they track the raw lines
// continuously across sessions.
func (f *framer) resetSession() {
	f.bitPos = 0
	f.accum = 0
	f.slot = slotCommand
	f.pendingByte = 0
	f.byteDone = false
	f.cmdAddr = 0
	f.cmdOp = 0
	f.addrValid = false
	f.addrWritable = false
	f.txByte = 0
	f.txBitIdx = 7
	f.txReload = false
}

// step advances the framer by one tick. reg is consulted combinationally
// for read data and address flags; any state change to it happens later in
// the same tick via the returned strobes.
func (f *framer) step(in LinkIn, reg *regFile) frameEvents {
	var ev frameEvents

	_, clkRise, clkFall := f.clk.step(in.Clock)
	sel, _, _ := f.sel.step(in.Select)
	din, _, _ := f.din.step(in.DataIn)

	f.selLevel = sel
	if !sel {
		f.resetSession()
		return ev
	}

	if f.byteDone {
		f.byteDone = false
		ev = f.completeByte(reg)
	}

	if clkFall {
		if f.txReload {
			f.txBitIdx = 7
			f.txReload = false
		} else {
			f.txBitIdx = (f.txBitIdx - 1) & 7
		}
	}

	if clkRise {
		f.accum = f.accum << 1
		if din {
			f.accum |= 1
		}
		if f.bitPos == 7 {
			f.pendingByte = f.accum
			f.accum = 0
			f.byteDone = true
		}
		f.bitPos = (f.bitPos + 1) & 7
	}

	return ev
}

// completeByte handles the byte-complete event: it latches the finished
// byte, decodes the command on slot 0, chooses the byte for the next slot
// and emits the read/write strobes.
func (f *framer) completeByte(reg *regFile) frameEvents {
	var ev frameEvents
	b := f.pendingByte

	switch f.slot {
	case slotCommand:
		f.cmdAddr = b >> 4
		f.cmdOp = b & 0x0F
		f.addrValid = reg.valid(f.cmdAddr)
		f.addrWritable = reg.writable(f.cmdAddr)
		f.txByte = f.commandResponse(reg)

		// The read strobe fires for any READ, valid address or not;
		// the register file treats invalid-address strobes as no-ops.
		if f.cmdOp == OpRead {
			ev.readStrobe = true
			ev.addr = f.cmdAddr
		}

	case slotData:
		// The write was accepted or rejected in slot 1's response; the
		// closing ACK is unconditional.
		f.txByte = RespACK
		if f.cmdOp == OpWrite && f.addrValid && f.addrWritable {
			ev.writeStrobe = true
			ev.addr = f.cmdAddr
			ev.writeData = b
		}

	default:
		f.txByte = 0x00
	}

	if f.slot < 0xFF {
		f.slot++
	}

	// The new byte-slot's bit 7 must be on the wire before the next rising
	// edge. The falling edge that ends the previous byte arrives after
	// this event, so it reloads the index rather than decrementing it.
	f.txReload = true

	return ev
}

// commandResponse selects the slot-1 byte per the decoded command.
func (f *framer) commandResponse(reg *regFile) uint8 {
	switch f.cmdOp {
	case OpRead:
		if f.addrValid {
			return reg.peek(f.cmdAddr)
		}
		return RespNAK
	case OpWrite:
		if f.addrValid && f.addrWritable {
			return RespACK
		}
		return RespNAK
	default:
		return RespNAK
	}
}

// dataOut is the level driven onto the data-out line this tick: the indexed
// bit of the transmit byte while select is active, idle low otherwise.
func (f *framer) dataOut() bool {
	if !f.selLevel {
		return false
	}
	return f.txByte>>(f.txBitIdx&7)&1 == 1
}
