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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_New(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, mock, device.Transport())
}

func TestDevice_NewWithOptions(t *testing.T) {
	t.Parallel()

	t.Run("retry config wraps transport", func(t *testing.T) {
		t.Parallel()

		mock := NewMockTransport()
		device, err := New(mock, WithRetryConfig(DefaultRetryConfig()))
		require.NoError(t, err)

		_, ok := device.Transport().(*TransportWithRetry)
		assert.True(t, ok)
	})

	t.Run("invalid timeout rejected", func(t *testing.T) {
		t.Parallel()

		_, err := New(NewMockTransport(), WithTimeout(0))
		require.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("invalid poll interval rejected", func(t *testing.T) {
		t.Parallel()

		_, err := New(NewMockTransport(), WithPollInterval(-time.Second))
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestDevice_Status(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	status, err := device.Status()
	require.NoError(t, err)
	assert.True(t, status.Idle)
	assert.False(t, status.Working)
	assert.False(t, status.Done)
	assert.Equal(t, byte(0x01), status.Raw)
}

func TestDevice_StatusDoneClearsOnRead(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	mock.SetDone()

	status, err := device.Status()
	require.NoError(t, err)
	assert.True(t, status.Done)

	status, err = device.Status()
	require.NoError(t, err)
	assert.False(t, status.Done, "done latch consumed by the first read")
}

func TestDevice_SetDims(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	require.NoError(t, device.SetDims(8, 16, 63))
	assert.Equal(t, byte(8), mock.Register(RegDimM))
	assert.Equal(t, byte(16), mock.Register(RegDimN))
	assert.Equal(t, byte(63), mock.Register(RegDimK))

	m, n, k, err := device.Dims()
	require.NoError(t, err)
	assert.Equal(t, byte(8), m)
	assert.Equal(t, byte(16), n)
	assert.Equal(t, byte(63), k)
}

func TestDevice_SetDimsValidation(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	err = device.SetDims(64, 1, 1)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Zero(t, mock.WriteCount(RegDimM), "nothing written after validation failure")
}

func TestDevice_Start(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	require.NoError(t, device.Start())
	assert.Zero(t, mock.Register(RegControl), "start bit auto-clears")

	control, err := device.Control()
	require.NoError(t, err)
	assert.Zero(t, control)
}

func TestDevice_WaitDone(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock, WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mock.SetDone()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, device.WaitDone(ctx))
}

func TestDevice_WaitDoneTimeout(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock, WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = device.WaitDone(ctx)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestDevice_Run(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock, WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	go func() {
		time.Sleep(15 * time.Millisecond)
		mock.SetDone()
	}()

	require.NoError(t, device.Run(context.Background(), 4, 4, 4))
	assert.Equal(t, byte(4), mock.Register(RegDimM))
	assert.Equal(t, 1, mock.WriteCount(RegControl), "one start write")
}

func TestDevice_RunWhileBusy(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetRegister(RegStatus, StatusWorking)
	device, err := New(mock)
	require.NoError(t, err)

	err = device.Run(context.Background(), 1, 1, 1)
	require.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, mock.WriteCount(RegControl), "no start issued while busy")
}

func TestDevice_Close(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	require.NoError(t, device.Close())
	assert.False(t, mock.IsConnected())
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	s := Status{Raw: 0x05, Idle: true, Done: true}
	assert.Equal(t, "idle=true working=false done=true (raw=0x05)", s.String())
}
