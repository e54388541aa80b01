package lock

import (
	"context"
	"time"
	"xmlstore/pkg/primitives"
	"xmlstore/pkg/util/syncutil"
)

// WaitingThread is an owner parked on a MultiReadLock. Besides waiting for
// its grant it can be made dormant: a suspended waiter stays parked even
// after the grant arrives, until LockReleased is called by the collection
// lock it was displaced from.
type WaitingThread struct {
	owner      primitives.OwnerID
	lock       Lock
	mode       Mode
	pollPeriod time.Duration
	wake       chan struct{}

	mu        syncutil.Mutex
	granted   bool
	suspended bool
}

func newWaitingThread(owner primitives.OwnerID, l Lock, mode Mode, pollPeriod time.Duration) *WaitingThread {
	return &WaitingThread{
		owner:      owner,
		lock:       l,
		mode:       mode,
		pollPeriod: pollPeriod,
		wake:       make(chan struct{}, 1),
	}
}

func (w *WaitingThread) Owner() primitives.OwnerID { return w.owner }

// Lock returns the lock this owner is waiting on.
func (w *WaitingThread) Lock() Lock { return w.lock }

func (w *WaitingThread) Mode() Mode { return w.mode }

// DoWait parks until the waiter has been granted and is not suspended.
// Cancellation of ctx is reported once the waiter is no longer dormant; a
// dormant owner has had its collection lock taken over and must get it back
// before it may run again, even to fail.
func (w *WaitingThread) DoWait(ctx context.Context) error {
	ticker := time.NewTicker(w.pollPeriod)
	defer ticker.Stop()

	done := ctx.Done()
	var cause error
	for {
		w.mu.Lock()
		granted, dormant := w.granted, w.suspended
		w.mu.Unlock()

		if cause != nil && !dormant {
			return cause
		}
		if granted && !dormant {
			return nil
		}

		select {
		case <-w.wake:
		case <-ticker.C:
		case <-done:
			cause = context.Cause(ctx)
			done = nil
		}
	}
}

// Suspend makes the waiter dormant.
func (w *WaitingThread) Suspend() {
	w.mu.Lock()
	w.suspended = true
	w.mu.Unlock()
}

func (w *WaitingThread) IsSuspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspended
}

// LockReleased ends a suspension and unparks the waiter so it re-checks its grant.
func (w *WaitingThread) LockReleased() {
	w.mu.Lock()
	w.suspended = false
	w.mu.Unlock()
	w.signal()
}

func (w *WaitingThread) isGranted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.granted
}

// grant is called by the owning lock with its latch held.
func (w *WaitingThread) grant() {
	w.mu.Lock()
	w.granted = true
	w.mu.Unlock()
	w.signal()
}

func (w *WaitingThread) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
