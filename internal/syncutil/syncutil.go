//go:build !deadlock

// Package syncutil provides the mutex types used by shared state in vfspanel.
// Building with the deadlock tag swaps them for go-deadlock instrumented locks.
package syncutil

import "sync"

// DeadlockEnabled reports whether lock-order detection is compiled in.
const DeadlockEnabled = false

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
