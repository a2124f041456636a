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

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Transport defines the interface for register access to a GEMM8 engine.
// This can be implemented by a UART bridge, direct GPIO bit-banging, or a
// mock for testing.
type Transport interface {
	// ReadRegister reads one register and returns its value
	ReadRegister(addr byte) (byte, error)

	// ReadRegisterWithContext reads one register with context support
	ReadRegisterWithContext(ctx context.Context, addr byte) (byte, error)

	// WriteRegister writes one register
	WriteRegister(addr, value byte) error

	// WriteRegisterWithContext writes one register with context support
	WriteRegisterWithContext(ctx context.Context, addr, value byte) error

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the read timeout for the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents the serial register bridge transport.
	TransportUART TransportType = "uart"
	// TransportGPIO represents direct pin-level bit-banging.
	TransportGPIO TransportType = "gpio"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportWithRetry wraps a Transport with retry capabilities.
// Protocol NAKs are deterministic and pass through without retry; only
// transport faults (timeouts, corrupted frames) are retried.
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// ReadRegister reads a register with retry logic
func (t *TransportWithRetry) ReadRegister(addr byte) (byte, error) {
	return t.ReadRegisterWithContext(context.Background(), addr)
}

// ReadRegisterWithContext reads a register with context support and retry logic
func (t *TransportWithRetry) ReadRegisterWithContext(ctx context.Context, addr byte) (byte, error) {
	var result byte
	err := RetryWithConfig(ctx, t.config, func() error {
		var err error
		result, err = t.transport.ReadRegisterWithContext(ctx, addr)
		return err
	})
	return result, err
}

// WriteRegister writes a register with retry logic
func (t *TransportWithRetry) WriteRegister(addr, value byte) error {
	return t.WriteRegisterWithContext(context.Background(), addr, value)
}

// WriteRegisterWithContext writes a register with context support and retry logic
func (t *TransportWithRetry) WriteRegisterWithContext(ctx context.Context, addr, value byte) error {
	return RetryWithConfig(ctx, t.config, func() error {
		return t.transport.WriteRegisterWithContext(ctx, addr, value)
	})
}

// Close closes the transport connection
func (t *TransportWithRetry) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// SetTimeout sets the read timeout for the transport
func (t *TransportWithRetry) SetTimeout(timeout time.Duration) error {
	if err := t.transport.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on underlying transport: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the transport type
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	t.config = config
}

// MockTransport provides a mock implementation of Transport for testing.
// It models the engine's register file faithfully enough for driver tests:
// invalid and read-only addresses NAK, Control bit 0 auto-clears, and the
// Status done bit clears on read.
type MockTransport struct {
	readErrors  map[byte]error
	writeErrors map[byte]error
	readCount   map[byte]int
	writeCount  map[byte]int
	regs        [MaxAddress + 1]byte
	timeout     time.Duration
	delay       time.Duration
	mu          sync.RWMutex
	connected   bool
}

// NewMockTransport creates a new mock transport with an idle engine.
func NewMockTransport() *MockTransport {
	m := &MockTransport{
		connected:   true,
		timeout:     time.Second,
		readErrors:  make(map[byte]error),
		writeErrors: make(map[byte]error),
		readCount:   make(map[byte]int),
		writeCount:  make(map[byte]int),
	}
	m.regs[RegStatus] = StatusIdle
	return m
}

// ReadRegister implements Transport interface
func (m *MockTransport) ReadRegister(addr byte) (byte, error) {
	return m.ReadRegisterWithContext(context.Background(), addr)
}

// ReadRegisterWithContext implements Transport interface with context support
func (m *MockTransport) ReadRegisterWithContext(ctx context.Context, addr byte) (byte, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCount[addr]++

	if err, exists := m.readErrors[addr]; exists {
		return 0, err
	}

	if addr > MaxAddress {
		return 0, NewNAKError("read", addr)
	}

	value := m.regs[addr]
	if addr == RegStatus {
		// Done clears on read
		m.regs[RegStatus] &^= StatusDone
	}
	return value, nil
}

// WriteRegister implements Transport interface
func (m *MockTransport) WriteRegister(addr, value byte) error {
	return m.WriteRegisterWithContext(context.Background(), addr, value)
}

// WriteRegisterWithContext implements Transport interface with context support
func (m *MockTransport) WriteRegisterWithContext(ctx context.Context, addr, value byte) error {
	if err := m.simulateLatency(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCount[addr]++

	if err, exists := m.writeErrors[addr]; exists {
		return err
	}

	if addr > MaxAddress || addr == RegStatus {
		return NewNAKError("write", addr)
	}

	if addr == RegControl {
		// Bit 0 auto-clears; a start request flips the engine to working.
		if value&ControlStart != 0 {
			m.regs[RegStatus] = StatusWorking | m.regs[RegStatus]&StatusDone
		}
		m.regs[RegControl] = value &^ ControlStart
		return nil
	}

	m.regs[addr] = value
	return nil
}

// simulateLatency checks connectivity and applies the configured delay.
func (m *MockTransport) simulateLatency(ctx context.Context) error {
	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return ErrTransportClosed
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetRegister sets a register value directly, bypassing protocol rules.
func (m *MockTransport) SetRegister(addr, value byte) {
	m.mu.Lock()
	if addr <= MaxAddress {
		m.regs[addr] = value
	}
	m.mu.Unlock()
}

// Register returns a register value directly, without read side effects.
func (m *MockTransport) Register(addr byte) byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if addr > MaxAddress {
		return 0
	}
	return m.regs[addr]
}

// SetDone latches the done bit, as the compute unit would on completion.
func (m *MockTransport) SetDone() {
	m.mu.Lock()
	m.regs[RegStatus] = StatusDone | StatusIdle
	m.mu.Unlock()
}

// SetReadError configures an error to be returned when reading an address
func (m *MockTransport) SetReadError(addr byte, err error) {
	m.mu.Lock()
	m.readErrors[addr] = err
	m.mu.Unlock()
}

// SetWriteError configures an error to be returned when writing an address
func (m *MockTransport) SetWriteError(addr byte, err error) {
	m.mu.Lock()
	m.writeErrors[addr] = err
	m.mu.Unlock()
}

// ClearErrors removes all injected errors
func (m *MockTransport) ClearErrors() {
	m.mu.Lock()
	m.readErrors = make(map[byte]error)
	m.writeErrors = make(map[byte]error)
	m.mu.Unlock()
}

// SetDelay configures a delay to simulate hardware response time
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// ReadCount returns how many times an address was read
func (m *MockTransport) ReadCount(addr byte) int {
	m.mu.RLock()
	count := m.readCount[addr]
	m.mu.RUnlock()
	return count
}

// WriteCount returns how many times an address was written
func (m *MockTransport) WriteCount(addr byte) int {
	m.mu.RLock()
	count := m.writeCount[addr]
	m.mu.RUnlock()
	return count
}

// Reset clears all call counts and resets state
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.readCount = make(map[byte]int)
	m.writeCount = make(map[byte]int)
	m.regs = [MaxAddress + 1]byte{RegStatus: StatusIdle}
	m.connected = true
	m.mu.Unlock()
}
