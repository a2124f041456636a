// Copyright 2026 The Gridbox Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gemm8

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", ErrTransportTimeout, true},
		{"read", ErrTransportRead, true},
		{"write", ErrTransportWrite, true},
		{"frame corrupted", ErrFrameCorrupted, true},
		{"checksum", ErrChecksumMismatch, true},
		{"wrapped timeout", fmt.Errorf("transact: %w", ErrTransportTimeout), true},
		{"NAK", NewNAKError("read", 0x9), false},
		{"invalid parameter", ErrInvalidParameter, false},
		{"closed", ErrTransportClosed, false},
		{"plain error", errors.New("something else"), false},
		{"transport error transient", NewTransportReadError("read", "/dev/ttyUSB0"), true},
		{"transport error permanent", NewInvalidResponseError("read", "/dev/ttyUSB0"), false},
		{"transport error timeout", NewTimeoutError("read", "/dev/ttyUSB0"), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"closed", ErrTransportClosed, true},
		{"EOF", io.EOF, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"timeout", ErrTransportTimeout, false},
		{"NAK", NewNAKError("write", RegStatus), false},
		{"EIO", fmt.Errorf("read: %w", syscall.EIO), true},
		{"ENXIO", fmt.Errorf("open: %w", syscall.ENXIO), true},
		{"ENODEV", fmt.Errorf("ioctl: %w", syscall.ENODEV), true},
		{"EAGAIN", fmt.Errorf("read: %w", syscall.EAGAIN), false},
		{"transport error permanent", NewInvalidResponseError("read", "mock"), true},
		{"transport error transient", NewTransportWriteError("write", "mock"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestNAKError(t *testing.T) {
	t.Parallel()

	err := NewNAKError("write", RegStatus)
	assert.Equal(t, "write of register 0x1 (Status) rejected: NAK", err.Error())
	assert.True(t, errors.Is(err, ErrNAK))
	assert.True(t, IsNAK(err))
	assert.True(t, IsNAK(fmt.Errorf("run: %w", err)))
	assert.False(t, IsNAK(ErrTransportTimeout))

	var nak *NAKError
	require.ErrorAs(t, fmt.Errorf("outer: %w", err), &nak)
	assert.Equal(t, RegStatus, nak.Addr)
	assert.Equal(t, "write", nak.Op)
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	err := NewTransportError("read", "/dev/ttyACM0", ErrTransportTimeout, ErrorTypeTimeout)
	assert.Equal(t, "read /dev/ttyACM0: transport timeout", err.Error())
	assert.True(t, errors.Is(err, ErrTransportTimeout))
	assert.True(t, err.Retryable)

	// Without a port the message drops the identifier.
	bare := NewTransportError("write", "", ErrTransportWrite, ErrorTypeTransient)
	assert.Equal(t, "write: transport write failed", bare.Error())
}

func TestErrorConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       *TransportError
		sentinel  error
		errType   ErrorType
		retryable bool
	}{
		{"timeout", NewTimeoutError("read", "p"), ErrTransportTimeout, ErrorTypeTimeout, true},
		{"frame corrupted", NewFrameCorruptedError("read", "p"), ErrFrameCorrupted, ErrorTypeTransient, true},
		{"write", NewTransportWriteError("write", "p"), ErrTransportWrite, ErrorTypeTransient, true},
		{"read", NewTransportReadError("read", "p"), ErrTransportRead, ErrorTypeTransient, true},
		{"invalid response", NewInvalidResponseError("read", "p"), ErrInvalidResponse, ErrorTypePermanent, false},
		{"checksum", NewChecksumMismatchError("read", "p"), ErrChecksumMismatch, ErrorTypeTransient, true},
		{"not ready", NewTransportNotReadyError("open", "p"), ErrTransportNotReady, ErrorTypeTimeout, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.errType, tt.err.Type)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
		})
	}
}

func TestTraceBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyUSB0", 4)
	tb.RecordTX([]byte{0xAA, 0x55, 0x02, 0xFE}, "request")
	tb.RecordRX([]byte{0xAA, 0x55, 0x01, 0xFF, 0x01, 0xFF}, "response")

	err := tb.WrapError(ErrTransportTimeout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportTimeout))
	require.True(t, HasTrace(err))

	te := GetTrace(err)
	require.NotNil(t, te)
	assert.Equal(t, "uart", te.Transport)
	assert.Equal(t, "/dev/ttyUSB0", te.Port)
	require.Len(t, te.Trace, 2)
	assert.Equal(t, TraceTX, te.Trace[0].Direction)
	assert.Equal(t, TraceRX, te.Trace[1].Direction)

	formatted := te.FormatTrace()
	assert.Contains(t, formatted, "uart:/dev/ttyUSB0")
	assert.Contains(t, formatted, "> AA 55 02 FE (request)")
	assert.Contains(t, formatted, "< AA 55 01 FF 01 FF (response)")
}

func TestTraceBuffer_NilError(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "mock", 4)
	tb.RecordTX([]byte{0x01}, "")
	assert.NoError(t, tb.WrapError(nil))
}

func TestTraceBuffer_EvictsOldest(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "mock", 2)
	tb.RecordTX([]byte{0x01}, "first")
	tb.RecordTX([]byte{0x02}, "second")
	tb.RecordTX([]byte{0x03}, "third")

	te := GetTrace(tb.WrapError(errors.New("boom")))
	require.NotNil(t, te)
	require.Len(t, te.Trace, 2)
	assert.Equal(t, "second", te.Trace[0].Note)
	assert.Equal(t, "third", te.Trace[1].Note)
}

func TestTraceBuffer_Clear(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "mock", 4)
	tb.RecordTimeout("no response within 100ms")
	tb.Clear()

	te := GetTrace(tb.WrapError(errors.New("boom")))
	require.NotNil(t, te)
	assert.Empty(t, te.Trace)
	assert.Contains(t, te.FormatTrace(), "(no trace data)")
}

func TestTraceBuffer_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	// Wrapped errors keep their own copy of the trace: later records and
	// clears must not change an already-returned error.
	tb := NewTraceBuffer("uart", "mock", 4)
	tb.RecordTX([]byte{0x01}, "before")

	err := tb.WrapError(errors.New("boom"))
	tb.RecordTX([]byte{0x02}, "after")
	tb.Clear()

	te := GetTrace(err)
	require.NotNil(t, te)
	require.Len(t, te.Trace, 1)
	assert.Equal(t, "before", te.Trace[0].Note)
}

func TestHasTrace_PlainError(t *testing.T) {
	t.Parallel()

	assert.False(t, HasTrace(errors.New("plain")))
	assert.Nil(t, GetTrace(errors.New("plain")))
	assert.False(t, HasTrace(nil))
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "AA 55 01", formatHexBytes([]byte{0xAA, 0x55, 0x01}))

	long := make([]byte, 40)
	formatted := formatHexBytes(long)
	assert.True(t, strings.HasSuffix(formatted, "... (40 bytes total)"))
	assert.Equal(t, 32, strings.Count(formatted, "00"))
}
