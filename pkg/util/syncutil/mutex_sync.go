//go:build !deadlock

// Package syncutil holds the mutex type used for the short critical sections
// inside lock objects, the deadlock detector and the lock table. Building with
// the deadlock tag swaps it for a lock-order checking implementation.
package syncutil

import "sync"

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = false

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}
