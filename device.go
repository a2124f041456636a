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
	"errors"
	"fmt"
	"time"
)

// Device errors
var (
	ErrTimeout     = errors.New("operation timeout")
	ErrBusy        = errors.New("engine is busy")
	ErrNeverIdle   = errors.New("engine did not return to idle")
	ErrNotFinished = errors.New("engine has not finished")
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for transport operations
	RetryConfig *RetryConfig
	// Timeout is the default timeout for operations
	Timeout time.Duration
	// PollInterval is the delay between status reads in WaitDone
	PollInterval time.Duration
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig:  DefaultRetryConfig(),
		Timeout:      1 * time.Second,
		PollInterval: 500 * time.Microsecond,
	}
}

// Status is the decoded Status register.
type Status struct {
	Raw     byte
	Idle    bool
	Working bool
	Done    bool
}

// String formats the status for debug output.
func (s Status) String() string {
	return fmt.Sprintf("idle=%t working=%t done=%t (raw=0x%02X)", s.Idle, s.Working, s.Done, s.Raw)
}

// Device represents a GEMM8 matrix engine reached over a Transport.
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. The
// underlying transport may have its own concurrency limitations. For
// concurrent access, wrap the Device with a mutex or use separate Device
// instances with separate transports.
//
// Note that the Status register's done bit clears on read: two goroutines
// polling the same engine would steal each other's completion events even
// with a locked Device.
type Device struct {
	transport Transport
	config    *DeviceConfig
}

// Option configures a Device during New.
type Option func(*Device) error

// WithRetryConfig wraps the transport with retry logic using the given
// configuration.
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		d.config.RetryConfig = config
		d.transport = NewTransportWithRetry(d.transport, config)
		return nil
	}
}

// WithTimeout sets the default operation timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrInvalidParameter)
		}
		d.config.Timeout = timeout
		return nil
	}
}

// WithPollInterval sets the delay between status reads in WaitDone.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrInvalidParameter)
		}
		d.config.PollInterval = interval
		return nil
	}
}

// New creates a new GEMM8 device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Transport returns the underlying transport.
func (d *Device) Transport() Transport {
	return d.transport
}

// Close closes the underlying transport.
func (d *Device) Close() error {
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Status reads and decodes the Status register. Reading consumes a pending
// done latch; callers that need the completion event must act on the
// returned Status rather than reading again.
func (d *Device) Status() (Status, error) {
	return d.StatusWithContext(context.Background())
}

// StatusWithContext reads the Status register with context support.
func (d *Device) StatusWithContext(ctx context.Context) (Status, error) {
	raw, err := d.transport.ReadRegisterWithContext(ctx, RegStatus)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read status: %w", err)
	}
	return Status{
		Raw:     raw,
		Idle:    raw&StatusIdle != 0,
		Working: raw&StatusWorking != 0,
		Done:    raw&StatusDone != 0,
	}, nil
}

// Control reads the Control register.
func (d *Device) Control() (byte, error) {
	value, err := d.transport.ReadRegister(RegControl)
	if err != nil {
		return 0, fmt.Errorf("failed to read control: %w", err)
	}
	return value, nil
}

// SetDims writes the three dimension registers. Values above DimMask are
// rejected rather than silently truncated.
func (d *Device) SetDims(m, n, k byte) error {
	return d.SetDimsWithContext(context.Background(), m, n, k)
}

// SetDimsWithContext writes the dimension registers with context support.
func (d *Device) SetDimsWithContext(ctx context.Context, m, n, k byte) error {
	for _, dim := range [...]struct {
		name  string
		addr  byte
		value byte
	}{
		{"m", RegDimM, m},
		{"n", RegDimN, n},
		{"k", RegDimK, k},
	} {
		if dim.value > DimMask {
			return fmt.Errorf("%w: dimension %s=%d exceeds %d",
				ErrInvalidParameter, dim.name, dim.value, DimMask)
		}
		if err := d.transport.WriteRegisterWithContext(ctx, dim.addr, dim.value); err != nil {
			return fmt.Errorf("failed to write dim %s: %w", dim.name, err)
		}
	}
	return nil
}

// Dims reads back the three dimension registers.
func (d *Device) Dims() (m, n, k byte, err error) {
	return d.DimsWithContext(context.Background())
}

// DimsWithContext reads the dimension registers with context support.
func (d *Device) DimsWithContext(ctx context.Context) (m, n, k byte, err error) {
	if m, err = d.transport.ReadRegisterWithContext(ctx, RegDimM); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read dim m: %w", err)
	}
	if n, err = d.transport.ReadRegisterWithContext(ctx, RegDimN); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read dim n: %w", err)
	}
	if k, err = d.transport.ReadRegisterWithContext(ctx, RegDimK); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read dim k: %w", err)
	}
	return m, n, k, nil
}

// Start requests a computation by writing the start bit. The bit
// self-clears in hardware; there is nothing to clear afterwards.
func (d *Device) Start() error {
	return d.StartWithContext(context.Background())
}

// StartWithContext requests a computation with context support.
func (d *Device) StartWithContext(ctx context.Context) error {
	if err := d.transport.WriteRegisterWithContext(ctx, RegControl, ControlStart); err != nil {
		return fmt.Errorf("failed to write start: %w", err)
	}
	return nil
}

// WaitDone polls the Status register until the done bit is observed or the
// context expires. The read that observes done also clears it, so a
// successful return means the latch has been consumed.
func (d *Device) WaitDone(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := d.StatusWithContext(ctx)
		if err != nil {
			return err
		}
		if status.Done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Run performs a full computation: program the dimensions, pulse start, and
// wait for completion. The configured default timeout applies on top of any
// deadline already on ctx.
func (d *Device) Run(ctx context.Context, m, n, k byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	status, err := d.StatusWithContext(ctx)
	if err != nil {
		return err
	}
	if status.Working {
		return ErrBusy
	}

	if err := d.SetDimsWithContext(ctx, m, n, k); err != nil {
		return err
	}
	if err := d.StartWithContext(ctx); err != nil {
		return err
	}
	return d.WaitDone(ctx)
}
