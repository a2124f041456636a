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

// Package uart implements the gemm8.Transport interface over a serial
// register bridge: a small MCU that terminates the engine's clocked serial
// link and exposes register reads and writes as framed UART requests.
package uart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GridboxProject/go-gemm8"
	"go.bug.st/serial"
)

// Bridge frame layout:
//
//	0xAA 0x55 LEN LCS PAYLOAD... DCS
//
// LEN+LCS == 0 (mod 256); sum(PAYLOAD)+DCS == 0 (mod 256). Request payloads
// are {'R', addr} and {'W', addr, data}; response payloads carry the raw
// engine bytes: {data} for reads, {ack1, ack2} for writes.
const (
	preamble1 = 0xAA
	preamble2 = 0x55
	opRead    = 'R'
	opWrite   = 'W'

	// Worst-case response payload is two bytes, so frames never exceed 7.
	maxFrameLen = 7
)

// Transport implements the gemm8.Transport interface for UART communication.
type Transport struct {
	port     serial.Port
	portName string
	timeout  time.Duration
	mu       sync.Mutex
}

// New creates a new UART transport on the given serial port.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	// Short poll timeout; the overall deadline is enforced per transaction
	if err := port.SetReadTimeout(10 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return &Transport{
		port:     port,
		portName: portName,
		timeout:  500 * time.Millisecond,
	}, nil
}

// ReadRegister reads one register through the bridge.
func (t *Transport) ReadRegister(addr byte) (byte, error) {
	return t.ReadRegisterWithContext(context.Background(), addr)
}

// ReadRegisterWithContext reads one register with context support.
func (t *Transport) ReadRegisterWithContext(ctx context.Context, addr byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trace := gemm8.NewTraceBuffer("uart", t.portName, 8)

	payload, err := t.transact(ctx, trace, []byte{opRead, addr}, 1)
	if err != nil {
		return 0, trace.WrapError(err)
	}

	value := payload[0]
	// The engine answers reads of unpopulated addresses with the reserved
	// NAK byte. 0xF0 cannot be told apart from data on the wire, so the
	// driver treats it as a rejection whenever the address is out of range.
	if value == gemm8.RespNAK && addr > gemm8.MaxAddress {
		return 0, trace.WrapError(gemm8.NewNAKError("read", addr))
	}

	gemm8.Debugf("uart: read %s = 0x%02X", gemm8.RegisterName(addr), value)
	return value, nil
}

// WriteRegister writes one register through the bridge.
func (t *Transport) WriteRegister(addr, value byte) error {
	return t.WriteRegisterWithContext(context.Background(), addr, value)
}

// WriteRegisterWithContext writes one register with context support.
func (t *Transport) WriteRegisterWithContext(ctx context.Context, addr, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	trace := gemm8.NewTraceBuffer("uart", t.portName, 8)

	payload, err := t.transact(ctx, trace, []byte{opWrite, addr, value}, 2)
	if err != nil {
		return trace.WrapError(err)
	}

	// ack1 answers the command byte, ack2 answers the data byte. The
	// engine NAKs read-only and unpopulated addresses on the command byte
	// already, but acknowledges the data byte only when the write landed.
	if payload[0] == gemm8.RespNAK || payload[1] != gemm8.RespACK {
		return trace.WrapError(gemm8.NewNAKError("write", addr))
	}

	gemm8.Debugf("uart: write %s = 0x%02X", gemm8.RegisterName(addr), value)
	return nil
}

// SetTimeout sets the per-transaction response deadline.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	if t.port != nil {
		err := t.port.Close()
		if err != nil {
			return fmt.Errorf("UART close failed: %w", err)
		}
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() gemm8.TransportType {
	return gemm8.TransportUART
}

// transact sends one request frame and reads back a response frame with the
// expected payload length. Callers must hold t.mu.
func (t *Transport) transact(
	ctx context.Context, trace *gemm8.TraceBuffer, reqPayload []byte, respLen int,
) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	frame := BuildFrame(reqPayload)
	trace.RecordTX(frame, "request")

	n, err := t.port.Write(frame)
	if err != nil {
		return nil, fmt.Errorf("UART frame write failed: %w", err)
	} else if n != len(frame) {
		return nil, gemm8.NewTransportWriteError("transact", t.portName)
	}

	payload, err := t.readResponse(ctx, trace, respLen)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// readResponse accumulates bytes from the port until a complete, valid
// response frame is seen or the deadline passes. Leading noise before the
// preamble is skipped; checksum failures discard the corrupted frame and
// keep scanning so a bridge retransmission can still land.
func (t *Transport) readResponse(
	ctx context.Context, trace *gemm8.TraceBuffer, respLen int,
) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, 0, 2*maxFrameLen)
	chunk := make([]byte, maxFrameLen)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			trace.RecordTimeout(fmt.Sprintf("no response after %v", t.timeout))
			return nil, gemm8.NewTimeoutError("readResponse", t.portName)
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("UART response read failed: %w", err)
		}
		if n == 0 {
			continue
		}
		trace.RecordRX(chunk[:n], "")
		buf = append(buf, chunk[:n]...)

		payload, rest, err := scanFrame(buf, respLen)
		switch {
		case err == nil && payload != nil:
			return payload, nil
		case err != nil:
			return nil, gemm8.NewChecksumMismatchError("readResponse", t.portName)
		default:
			buf = rest
		}
	}
}

// scanFrame looks for one complete frame in buf. It returns the payload if
// a valid frame with the expected length was found, the remaining buffer to
// keep scanning otherwise, or an error on a checksum mismatch.
func scanFrame(buf []byte, respLen int) (payload, rest []byte, err error) {
	start := 0
	for ; start+1 < len(buf); start++ {
		if buf[start] == preamble1 && buf[start+1] == preamble2 {
			break
		}
	}
	if start+1 >= len(buf) {
		// No preamble yet; only the trailing byte could begin one.
		if len(buf) > 1 {
			buf = buf[len(buf)-1:]
		}
		return nil, buf, nil
	}
	buf = buf[start:]

	// Preamble(2) + LEN + LCS + payload + DCS
	if len(buf) < 4 {
		return nil, buf, nil
	}
	n := int(buf[2])
	if buf[2]+buf[3] != 0 || n != respLen {
		return nil, nil, gemm8.ErrChecksumMismatch
	}
	if len(buf) < 5+n {
		return nil, buf, nil
	}

	payload = buf[4 : 4+n]
	sum := buf[4+n]
	for _, b := range payload {
		sum += b
	}
	if sum != 0 {
		return nil, nil, gemm8.ErrChecksumMismatch
	}
	return payload, nil, nil
}

// BuildFrame wraps a payload in the bridge framing.
func BuildFrame(payload []byte) []byte {
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, preamble1, preamble2,
		byte(len(payload)), byte(-len(payload)))
	frame = append(frame, payload...)

	var dcs byte
	for _, b := range payload {
		dcs += b
	}
	frame = append(frame, byte(0)-dcs)
	return frame
}

// Ensure Transport implements gemm8.Transport
var _ gemm8.Transport = (*Transport)(nil)
