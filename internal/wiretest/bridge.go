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

package wiretest

import (
	"bytes"
	"fmt"

	"github.com/GridboxProject/go-gemm8/internal/syncutil"
)

// Serial register bridge framing. A request and its response share the same
// shape:
//
//	0xAA 0x55 LEN LCS PAYLOAD... DCS
//
// where LEN+LCS == 0 (mod 256) and sum(PAYLOAD)+DCS == 0 (mod 256).
// Request payloads are {'R', addr} and {'W', addr, data}; the response
// payload carries the engine's raw response byte(s): {data} for reads,
// {ack1, ack2} for writes. NAK bytes pass through unmodified.
const (
	BridgePreamble1 = 0xAA
	BridgePreamble2 = 0x55
	BridgeOpRead    = 0x52 // 'R'
	BridgeOpWrite   = 0x57 // 'W'
)

// VirtualBridge simulates the UART register bridge at the byte level. It
// implements io.ReadWriter so it can sit behind a mock serial.Port in
// transport tests: frames written to it are executed as pin-level
// transactions against the engine through a LinkDriver, and the framed
// response becomes readable.
//
// Malformed frames (bad length or data checksum, unknown payload) are
// discarded without a response; the host side is expected to time out.
type VirtualBridge struct {
	drv *LinkDriver

	rxBuffer bytes.Buffer
	txBuffer bytes.Buffer
	mu       syncutil.Mutex

	corruptNextResponse bool
	dropNextResponse    bool
}

// NewVirtualBridge wraps a LinkDriver in the bridge framing.
func NewVirtualBridge(drv *LinkDriver) *VirtualBridge {
	return &VirtualBridge{drv: drv}
}

// Driver exposes the underlying LinkDriver so tests can play the compute
// unit (done pulses, idle/working lines) between transactions.
func (v *VirtualBridge) Driver() *LinkDriver {
	return v.drv
}

// CorruptNextResponse flips the data checksum of the next response frame.
func (v *VirtualBridge) CorruptNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptNextResponse = true
}

// DropNextResponse suppresses the next response frame entirely.
func (v *VirtualBridge) DropNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextResponse = true
}

// Write implements io.Writer: it receives request bytes from the host and
// executes any complete frames found in them.
func (v *VirtualBridge) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	v.processRequests()
	return len(data), nil
}

// Read implements io.Reader: it returns queued response bytes.
func (v *VirtualBridge) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, err := v.txBuffer.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// processRequests parses frames out of the receive buffer until it runs dry
// or hits an incomplete tail.
func (v *VirtualBridge) processRequests() {
	for {
		data := v.rxBuffer.Bytes()

		start := findBridgePreamble(data)
		if start < 0 {
			// No preamble anywhere; at most the last byte could begin one.
			if len(data) > 1 {
				v.rxBuffer.Next(len(data) - 1)
			}
			return
		}
		if start > 0 {
			v.rxBuffer.Next(start)
			data = v.rxBuffer.Bytes()
		}

		payload, frameLen, ok, incomplete := parseBridgeFrame(data)
		if incomplete {
			return
		}
		if !ok {
			// Bad checksum: skip the preamble and rescan.
			v.rxBuffer.Next(1)
			continue
		}

		v.rxBuffer.Next(frameLen)
		v.execute(payload)
	}
}

// execute runs one request payload against the engine and queues the
// framed response.
func (v *VirtualBridge) execute(payload []byte) {
	var resp []byte

	switch {
	case len(payload) == 2 && payload[0] == BridgeOpRead:
		resp = []byte{v.drv.ReadRegister(payload[1] & 0x0F)}
	case len(payload) == 3 && payload[0] == BridgeOpWrite:
		ack1, ack2 := v.drv.WriteRegister(payload[1]&0x0F, payload[2])
		resp = []byte{ack1, ack2}
	default:
		return
	}

	if v.dropNextResponse {
		v.dropNextResponse = false
		return
	}

	frame := BuildBridgeFrame(resp)
	if v.corruptNextResponse {
		v.corruptNextResponse = false
		frame[len(frame)-1] ^= 0xFF
	}
	v.txBuffer.Write(frame)
}

// findBridgePreamble locates the 0xAA 0x55 pattern.
func findBridgePreamble(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == BridgePreamble1 && data[i+1] == BridgePreamble2 {
			return i
		}
	}
	return -1
}

// parseBridgeFrame validates one frame starting at data[0]. It returns the
// payload, the total frame length consumed, whether the frame was valid,
// and whether more bytes are needed before judging it.
func parseBridgeFrame(data []byte) (payload []byte, frameLen int, ok, incomplete bool) {
	// Preamble(2) + LEN(1) + LCS(1) + DCS(1) is the minimum.
	if len(data) < 5 {
		return nil, 0, false, true
	}

	n := int(data[2])
	lcs := data[3]
	if byte(n)+lcs != 0 {
		return nil, 0, false, false
	}

	frameLen = 4 + n + 1
	if len(data) < frameLen {
		return nil, 0, false, true
	}

	payload = data[4 : 4+n]
	dcs := data[4+n]
	sum := dcs
	for _, b := range payload {
		sum += b
	}
	if sum != 0 {
		return nil, 0, false, false
	}

	return payload, frameLen, true, false
}

// BuildBridgeFrame wraps a payload in the bridge framing.
func BuildBridgeFrame(payload []byte) []byte {
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, BridgePreamble1, BridgePreamble2,
		byte(len(payload)), byte(-len(payload)))
	frame = append(frame, payload...)

	var dcs byte
	for _, b := range payload {
		dcs += b
	}
	frame = append(frame, byte(0)-dcs)
	return frame
}
