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

// Package gpio implements the gemm8.Transport interface by bit-banging the
// engine's clocked serial link directly on GPIO pins. This is the transport
// to use when the engine hangs off a Raspberry Pi style header with no
// bridge MCU in between.
package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GridboxProject/go-gemm8"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// The engine samples its inputs through a two-stage synchronizer, so every
// level change must be held for at least two engine clock cycles before the
// next edge. The default half-period of 5us keeps the link well under
// 100kHz, comfortable for any engine clock above 1MHz.
const defaultHalfPeriod = 5 * time.Microsecond

// Pins names the four link pins by their periph registry names
// (e.g. "GPIO17" or "P1_11" on a Raspberry Pi).
type Pins struct {
	SCK  string // clock, driven by this transport
	SS   string // select, active-low on the header
	MOSI string // data into the engine
	MISO string // data out of the engine
}

// Transport implements the gemm8.Transport interface by driving the link
// pins directly.
type Transport struct {
	sck  gpio.PinIO
	ss   gpio.PinIO
	mosi gpio.PinIO
	miso gpio.PinIO

	name       string
	halfPeriod time.Duration
	mu         sync.Mutex
	connected  bool
}

// New creates a new GPIO transport on the named pins.
func New(pins Pins) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	lookup := func(name, role string) (gpio.PinIO, error) {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("%w: no such pin %q for %s", gemm8.ErrInvalidParameter, name, role)
		}
		return pin, nil
	}

	sck, err := lookup(pins.SCK, "SCK")
	if err != nil {
		return nil, err
	}
	ss, err := lookup(pins.SS, "SS")
	if err != nil {
		return nil, err
	}
	mosi, err := lookup(pins.MOSI, "MOSI")
	if err != nil {
		return nil, err
	}
	miso, err := lookup(pins.MISO, "MISO")
	if err != nil {
		return nil, err
	}

	return NewFromPins(sck, ss, mosi, miso, pins.SCK)
}

// NewFromPins creates a transport from already-resolved pins. Tests use
// this to inject fakes.
func NewFromPins(sck, ss, mosi, miso gpio.PinIO, name string) (*Transport, error) {
	t := &Transport{
		sck:        sck,
		ss:         ss,
		mosi:       mosi,
		miso:       miso,
		name:       name,
		halfPeriod: defaultHalfPeriod,
		connected:  true,
	}

	// Park the bus: clock low, select inactive.
	if err := t.sck.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to drive SCK: %w", err)
	}
	if err := t.ss.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to drive SS: %w", err)
	}
	if err := t.mosi.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to drive MOSI: %w", err)
	}
	if err := miso.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure MISO: %w", err)
	}

	return t, nil
}

// SetHalfPeriod overrides the clock half-period. Values below the
// synchronizer's two-cycle hold requirement will corrupt transfers.
func (t *Transport) SetHalfPeriod(d time.Duration) {
	t.mu.Lock()
	t.halfPeriod = d
	t.mu.Unlock()
}

// ReadRegister reads one register over the link.
func (t *Transport) ReadRegister(addr byte) (byte, error) {
	return t.ReadRegisterWithContext(context.Background(), addr)
}

// ReadRegisterWithContext reads one register with context support.
func (t *Transport) ReadRegisterWithContext(ctx context.Context, addr byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return 0, gemm8.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("gpio read cancelled: %w", err)
	}

	resp, err := t.session(
		gemm8.CommandByte(gemm8.OpRead, addr),
		0x00,
	)
	if err != nil {
		return 0, err
	}

	value := resp[1]
	if value == gemm8.RespNAK && addr > gemm8.MaxAddress {
		return 0, gemm8.NewNAKError("read", addr)
	}
	gemm8.Debugf("gpio: read %s = 0x%02X", gemm8.RegisterName(addr), value)
	return value, nil
}

// WriteRegister writes one register over the link.
func (t *Transport) WriteRegister(addr, value byte) error {
	return t.WriteRegisterWithContext(context.Background(), addr, value)
}

// WriteRegisterWithContext writes one register with context support.
func (t *Transport) WriteRegisterWithContext(ctx context.Context, addr, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return gemm8.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gpio write cancelled: %w", err)
	}

	// The full four-byte exchange is clocked out even when the command is
	// rejected; the engine ignores the data byte in that case and answers
	// both response slots with NAK.
	resp, err := t.session(
		gemm8.CommandByte(gemm8.OpWrite, addr),
		0x00,
		value,
		0x00,
	)
	if err != nil {
		return err
	}

	if resp[1] == gemm8.RespNAK || resp[3] != gemm8.RespACK {
		return gemm8.NewNAKError("write", addr)
	}
	gemm8.Debugf("gpio: write %s = 0x%02X", gemm8.RegisterName(addr), value)
	return nil
}

// SetTimeout implements gemm8.Transport. Bit-banged transfers have no
// response wait, so there is nothing to configure.
func (*Transport) SetTimeout(time.Duration) error {
	return nil
}

// Close parks the bus and releases the transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	if err := t.ss.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to release SS: %w", err)
	}
	if err := t.sck.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to park SCK: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Type returns the transport type
func (*Transport) Type() gemm8.TransportType {
	return gemm8.TransportGPIO
}

// session asserts select, exchanges the given bytes, and releases select.
// Callers must hold t.mu.
func (t *Transport) session(tx ...byte) ([]byte, error) {
	if err := t.ss.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to assert SS: %w", err)
	}
	// Hold select long enough for the synchronizer to see it before the
	// first clock edge.
	time.Sleep(t.halfPeriod)

	rx := make([]byte, len(tx))
	for i, b := range tx {
		r, err := t.transferByte(b)
		if err != nil {
			_ = t.ss.Out(gpio.High)
			return nil, err
		}
		rx[i] = r
	}

	time.Sleep(t.halfPeriod)
	if err := t.ss.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to release SS: %w", err)
	}
	time.Sleep(t.halfPeriod)

	return rx, nil
}

// transferByte clocks one byte out on MOSI and one byte in from MISO,
// MSB first. The engine updates MISO after each falling edge and samples
// MOSI on each rising edge, so the master sets data while the clock is low
// and samples just before raising it.
func (t *Transport) transferByte(tx byte) (byte, error) {
	var rx byte
	for bit := 7; bit >= 0; bit-- {
		level := gpio.Low
		if tx&(1<<bit) != 0 {
			level = gpio.High
		}
		if err := t.mosi.Out(level); err != nil {
			return 0, fmt.Errorf("failed to drive MOSI: %w", err)
		}

		time.Sleep(t.halfPeriod)
		if t.miso.Read() == gpio.High {
			rx |= 1 << bit
		}

		if err := t.sck.Out(gpio.High); err != nil {
			return 0, fmt.Errorf("failed to raise SCK: %w", err)
		}
		time.Sleep(t.halfPeriod)
		if err := t.sck.Out(gpio.Low); err != nil {
			return 0, fmt.Errorf("failed to lower SCK: %w", err)
		}
	}
	return rx, nil
}

// Ensure Transport implements gemm8.Transport
var _ gemm8.Transport = (*Transport)(nil)
