package lock

import (
	"context"
	"fmt"
	"slices"
	"time"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"
	"xmlstore/pkg/primitives"
	"xmlstore/pkg/util/syncutil"
)

const reentrantComponent = "ReentrantLock"

// suspendedWaiter is an owner displaced by a deadlock takeover, with the
// holds it had when it was displaced.
type suspendedWaiter struct {
	owner  primitives.OwnerID
	modes  []Mode
	waiter *WaitingThread
}

// ReentrantLock is a collection lock with a single owner at a time, read or
// write. The owner may nest acquisitions; each one pushes its mode and each
// release pops one.
//
// If the owner is parked on a resource lock held by an owner now asking for
// this lock, the asker takes this lock over and the displaced owner is
// suspended until the lock becomes free again, at which point it gets its
// holds back without the lock ever appearing unlocked.
type ReentrantLock struct {
	id   string
	opts Options

	mu        syncutil.Mutex
	changed   chan struct{} // closed and replaced on every broadcast
	owner     primitives.OwnerID
	modes     []Mode // one entry per hold, most recent last
	suspended []suspendedWaiter
	waiting   map[primitives.OwnerID]Mode
}

func NewReentrantLock(id string, opts Options) *ReentrantLock {
	return &ReentrantLock{
		id:      id,
		opts:    opts.withDefaults(),
		changed: make(chan struct{}),
		waiting: make(map[primitives.OwnerID]Mode),
	}
}

func (l *ReentrantLock) ID() string { return l.id }

func (l *ReentrantLock) Type() Type { return CollectionLockType }

// Acquire implements Lock.
func (l *ReentrantLock) Acquire(ctx context.Context, owner primitives.OwnerID, mode Mode) error {
	if mode == NoLock {
		return nil
	}
	l.record(ActionAttempt, owner, mode, 1)

	if err := ctx.Err(); err != nil {
		return l.failed(owner, mode, context.Cause(ctx))
	}
	if err := validate(owner, mode); err != nil {
		return l.failed(owner, mode, err)
	}

	l.mu.Lock()
	if l.tryGrantLocked(owner, mode) {
		l.mu.Unlock()
		l.record(ActionAcquired, owner, mode, 1)
		return nil
	}
	if w := l.opts.Detector.DeadlockCheckResource(owner, l.owner); w != nil {
		l.takeOverLocked(owner, mode, w)
		l.mu.Unlock()
		w.Lock().WakeUp()
		l.record(ActionAcquired, owner, mode, 1)
		return nil
	}

	l.opts.Detector.AddCollectionWaiter(owner, l)
	l.waiting[owner] = mode
	defer l.opts.Detector.ClearCollectionWaiter(owner)

	ticker := time.NewTicker(l.opts.PollPeriod)
	defer ticker.Stop()

	for {
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ticker.C:
		case <-ctx.Done():
			l.mu.Lock()
			delete(l.waiting, owner)
			l.mu.Unlock()
			return l.failed(owner, mode, context.Cause(ctx))
		}

		l.mu.Lock()
		if l.tryGrantLocked(owner, mode) {
			delete(l.waiting, owner)
			l.mu.Unlock()
			l.record(ActionAcquired, owner, mode, 1)
			return nil
		}
		// The holder may have parked on a resource we hold since we last looked.
		if w := l.opts.Detector.DeadlockCheckResource(owner, l.owner); w != nil {
			delete(l.waiting, owner)
			l.takeOverLocked(owner, mode, w)
			l.mu.Unlock()
			w.Lock().WakeUp()
			l.record(ActionAcquired, owner, mode, 1)
			return nil
		}
	}
}

// Attempt implements Lock.
func (l *ReentrantLock) Attempt(owner primitives.OwnerID, mode Mode) bool {
	if mode == NoLock {
		return true
	}
	l.record(ActionAttempt, owner, mode, 1)

	ok := false
	if validate(owner, mode) == nil {
		l.mu.Lock()
		ok = l.tryGrantLocked(owner, mode)
		l.mu.Unlock()
	}

	if ok {
		l.record(ActionAcquired, owner, mode, 1)
	} else {
		l.record(ActionAttemptFailed, owner, mode, 1)
	}
	return ok
}

// tryGrantLocked grants the lock if it is free or already owned by owner.
// l.mu must be held.
func (l *ReentrantLock) tryGrantLocked(owner primitives.OwnerID, mode Mode) bool {
	switch l.owner {
	case owner:
		l.modes = append(l.modes, mode)
		return true
	case primitives.NoOwner:
		l.owner = owner
		l.modes = []Mode{mode}
		return true
	}
	return false
}

// takeOverLocked suspends the current owner, whose resource wait is w, and
// makes owner the holder. l.mu must be held.
func (l *ReentrantLock) takeOverLocked(owner primitives.OwnerID, mode Mode, w *WaitingThread) {
	w.Suspend()
	displaced := l.owner
	l.suspended = append(l.suspended, suspendedWaiter{
		owner:  displaced,
		modes:  l.modes,
		waiter: w,
	})
	l.owner = owner
	l.modes = []Mode{mode}

	logging.WithLock(owner, l.id).Warn("deadlock detected, taking over collection lock",
		"mode", mode,
		"suspended_owner", displaced,
		"suspended_on", w.Lock().ID())
}

// Release implements Lock.
func (l *ReentrantLock) Release(owner primitives.OwnerID, mode Mode) {
	l.ReleaseCount(owner, mode, 1)
}

// ReleaseCount implements Lock.
func (l *ReentrantLock) ReleaseCount(owner primitives.OwnerID, mode Mode, count int) {
	if mode == NoLock || count <= 0 {
		return
	}

	l.mu.Lock()
	if l.owner != owner || len(l.modes) == 0 {
		current := l.owner
		l.mu.Unlock()
		warnRelease(reentrantComponent, l.id, owner, mode,
			fmt.Sprintf("lock is owned by %s", current))
		return
	}

	var mismatched []Mode
	released := 0
	for released < count && len(l.modes) > 0 {
		top := l.modes[len(l.modes)-1]
		l.modes = l.modes[:len(l.modes)-1]
		if top != mode {
			mismatched = append(mismatched, top)
		}
		released++
	}

	var resumed *suspendedWaiter
	if len(l.modes) == 0 {
		if n := len(l.suspended); n > 0 {
			sw := l.suspended[n-1]
			l.suspended = l.suspended[:n-1]
			l.owner = sw.owner
			l.modes = sw.modes
			resumed = &sw
		} else {
			l.owner = primitives.NoOwner
			l.modes = nil
			l.broadcastLocked()
		}
	}
	l.mu.Unlock()

	l.record(ActionReleased, owner, mode, released)

	if len(mismatched) > 0 {
		err := dberror.ProtocolWarning(reentrantComponent, l.id, owner.String(),
			fmt.Sprintf("released %s but held %v", mode, mismatched))
		logging.WithLock(owner, l.id).Warn("released lock of different mode",
			"error", err.Error(),
			"stack", err.FormatStack())
	}
	if released < count {
		warnRelease(reentrantComponent, l.id, owner, mode,
			fmt.Sprintf("requested %d releases, %d were held", count, released))
	}
	if resumed != nil {
		logging.WithLock(resumed.owner, l.id).Info("collection lock handed back to suspended owner",
			"holds", len(resumed.modes))
		resumed.waiter.LockReleased()
	}
}

// broadcastLocked wakes every waiter. l.mu must be held.
func (l *ReentrantLock) broadcastLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// WakeUp implements Lock.
func (l *ReentrantLock) WakeUp() {
	l.mu.Lock()
	l.broadcastLocked()
	l.mu.Unlock()
}

func (l *ReentrantLock) HasLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != primitives.NoOwner
}

func (l *ReentrantLock) HasLockOwner(owner primitives.OwnerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return owner != primitives.NoOwner && l.owner == owner
}

func (l *ReentrantLock) IsLockedForWrite() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.modes, WriteLock)
}

func (l *ReentrantLock) IsLockedForRead(owner primitives.OwnerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == owner && slices.Contains(l.modes, ReadLock)
}

// Owner returns the current holder, or NoOwner.
func (l *ReentrantLock) Owner() primitives.OwnerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// HoldCount returns the number of nested holds of the current owner.
func (l *ReentrantLock) HoldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.modes)
}

// SuspendedCount returns the number of owners waiting to get this lock back.
func (l *ReentrantLock) SuspendedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.suspended)
}

// Info implements Lock.
func (l *ReentrantLock) Info() LockInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := LockInfo{
		Type: CollectionLockType,
		Mode: NoLock,
		ID:   l.id,
	}
	if l.owner != primitives.NoOwner {
		info.Owners = []string{l.owner.String()}
		info.Mode = ReadLock
		if slices.Contains(l.modes, WriteLock) {
			info.Mode = WriteLock
		}
	}

	waiting := make([]primitives.OwnerID, 0, len(l.waiting))
	for o := range l.waiting {
		waiting = append(waiting, o)
	}
	slices.Sort(waiting)
	for _, o := range waiting {
		if l.waiting[o] == WriteLock {
			info.WaitingForWrite = append(info.WaitingForWrite, o.String())
		} else {
			info.WaitingForRead = append(info.WaitingForRead, o.String())
		}
	}
	return info
}

func (l *ReentrantLock) record(action Action, owner primitives.OwnerID, mode Mode, count int) {
	l.opts.Events.Record(newEvent(action, l.id, CollectionLockType, mode, owner, count))
}

func (l *ReentrantLock) failed(owner primitives.OwnerID, mode Mode, cause error) error {
	l.record(ActionAttemptFailed, owner, mode, 1)
	return dberror.LockFailure(reentrantComponent, l.id, owner.String(), cause)
}
