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

package gemm8

// Register addresses of the GEMM8 control port. The wire carries a 4-bit
// address (the external byte address right-shifted by 2); 0x5-0xF are
// unpopulated and NAK on any access.
const (
	RegControl byte = 0x0
	RegStatus  byte = 0x1
	RegDimM    byte = 0x2
	RegDimN    byte = 0x3
	RegDimK    byte = 0x4
)

// Command opcodes, carried in the low nibble of the command byte.
const (
	OpRead  byte = 0x1
	OpWrite byte = 0x2
)

// Reserved response bytes. RespNAK doubles as the read response for invalid
// addresses, so a read that returns 0xF0 is indistinguishable from a NAK on
// the wire; the driver reports it as a NAK since the protocol reserves the
// value.
const (
	RespACK byte = 0xFF
	RespNAK byte = 0xF0
)

// Register bit assignments.
const (
	ControlStart byte = 1 << 0

	StatusIdle    byte = 1 << 0
	StatusWorking byte = 1 << 1
	StatusDone    byte = 1 << 2

	// DimMask covers the significant bits of the dimension registers.
	DimMask byte = 0x3F
)

// MaxAddress is the last populated register address.
const MaxAddress = RegDimK

// CommandByte assembles the first byte of a transaction: address in the
// high nibble, opcode in the low nibble.
func CommandByte(op, addr byte) byte {
	return addr<<4 | op&0x0F
}

// RegisterName returns a human-readable name for an address, for debug
// output and error messages.
func RegisterName(addr byte) string {
	switch addr {
	case RegControl:
		return "Control"
	case RegStatus:
		return "Status"
	case RegDimM:
		return "DimM"
	case RegDimN:
		return "DimN"
	case RegDimK:
		return "DimK"
	default:
		return "invalid"
	}
}
