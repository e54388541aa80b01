package lock

import (
	"context"
	"time"
	"xmlstore/pkg/primitives"
)

// DefaultPollPeriod bounds every blocking wait, so waiters notice cycles
// created after they went to sleep and cancellation of their context.
const DefaultPollPeriod = 200 * time.Millisecond

// Lock is the capability handed out by a Manager for one identifier.
// Callers must obtain locks through a Manager and keep only the identifier
// across calls, never the Lock value itself.
type Lock interface {
	ID() string
	Type() Type

	// Acquire blocks until owner holds the lock in mode. It fails with a
	// LOCK_FAILURE error if ctx is done before the lock is granted.
	Acquire(ctx context.Context, owner primitives.OwnerID, mode Mode) error
	// Attempt grants the lock only if it is available right now.
	Attempt(owner primitives.OwnerID, mode Mode) bool
	// Release drops one hold. Releasing a hold the owner does not have is
	// logged and ignored.
	Release(owner primitives.OwnerID, mode Mode)
	// ReleaseCount drops count holds at once.
	ReleaseCount(owner primitives.OwnerID, mode Mode, count int)

	HasLock() bool
	HasLockOwner(owner primitives.OwnerID) bool
	IsLockedForWrite() bool
	IsLockedForRead(owner primitives.OwnerID) bool

	// WakeUp makes every waiter re-evaluate whether it can proceed.
	WakeUp()
	Info() LockInfo
}

// LockInfo is a read-only snapshot of a lock for dump and print tooling.
type LockInfo struct {
	Type            Type
	Mode            Mode
	ID              string
	Owners          []string
	WaitingForRead  []string
	WaitingForWrite []string
}

// Options carries the per-database services a lock reports to.
type Options struct {
	Detector   *DeadlockDetection
	Events     EventSink
	PollPeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.Detector == nil {
		o.Detector = NewDeadlockDetection()
	}
	if o.Events == nil {
		o.Events = noopSink{}
	}
	if o.PollPeriod <= 0 {
		o.PollPeriod = DefaultPollPeriod
	}
	return o
}
