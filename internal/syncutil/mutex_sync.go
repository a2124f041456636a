//go:build !deadlock

// Package syncutil provides the mutex types used by go-gemm8's simulators
// and mock transports. By default they are plain sync.Mutex/sync.RWMutex
// with zero overhead; build with -tags=deadlock to swap in
// github.com/sasha-s/go-deadlock detection.
package syncutil

import "sync"

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.Mutex to expose its interface
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.RWMutex to expose its interface
type RWMutex struct {
	sync.RWMutex
}
