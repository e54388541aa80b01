package lock

import (
	"context"
	"fmt"
	"slices"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"
	"xmlstore/pkg/primitives"
	"xmlstore/pkg/util/syncutil"
)

const multiReadComponent = "MultiReadLock"

// MultiReadLock is a resource (document) lock that admits any number of
// concurrent readers and one writer, preferring queued writers over newly
// arriving readers. The owner holding the write lock may also read, and an
// owner that is the only reader may upgrade to write.
type MultiReadLock struct {
	id   string
	opts Options

	mu            syncutil.Mutex
	writeOwner    primitives.OwnerID
	writeHolds    int
	readers       []primitives.OwnerID // one entry per nested read hold
	waitingReads  []*WaitingThread
	waitingWrites []*WaitingThread // FIFO
}

func NewMultiReadLock(id string, opts Options) *MultiReadLock {
	return &MultiReadLock{
		id:   id,
		opts: opts.withDefaults(),
	}
}

func (l *MultiReadLock) ID() string { return l.id }

func (l *MultiReadLock) Type() Type { return ResourceLockType }

// Acquire implements Lock.
func (l *MultiReadLock) Acquire(ctx context.Context, owner primitives.OwnerID, mode Mode) error {
	if mode == NoLock {
		return nil
	}
	l.record(ActionAttempt, owner, mode, 1)

	if err := ctx.Err(); err != nil {
		return l.failed(owner, mode, dberror.LockFailure(multiReadComponent, l.id, owner.String(), context.Cause(ctx)))
	}

	if err := validate(owner, mode); err != nil {
		return l.failed(owner, mode, dberror.LockFailure(multiReadComponent, l.id, owner.String(), err))
	}

	var err error
	if mode == ReadLock {
		err = l.readLock(ctx, owner)
	} else {
		err = l.writeLock(ctx, owner)
	}
	if err != nil {
		return l.failed(owner, mode, err)
	}

	l.record(ActionAcquired, owner, mode, 1)
	return nil
}

// Attempt implements Lock.
func (l *MultiReadLock) Attempt(owner primitives.OwnerID, mode Mode) bool {
	if mode == NoLock {
		return true
	}
	l.record(ActionAttempt, owner, mode, 1)
	if validate(owner, mode) != nil {
		l.record(ActionAttemptFailed, owner, mode, 1)
		return false
	}

	l.mu.Lock()
	ok := false
	switch mode {
	case ReadLock:
		if l.canGrantRead(owner) {
			l.readers = append(l.readers, owner)
			ok = true
		}
	case WriteLock:
		ok = l.tryGrantWrite(owner)
	}
	l.mu.Unlock()

	if ok {
		l.record(ActionAcquired, owner, mode, 1)
	} else {
		l.record(ActionAttemptFailed, owner, mode, 1)
	}
	return ok
}

func (l *MultiReadLock) readLock(ctx context.Context, owner primitives.OwnerID) error {
	l.mu.Lock()
	if l.canGrantRead(owner) {
		l.readers = append(l.readers, owner)
		l.mu.Unlock()
		return nil
	}

	w := newWaitingThread(owner, l, ReadLock, l.opts.PollPeriod)
	l.waitingReads = append(l.waitingReads, w)
	holders := l.holdersExcept(owner)
	l.mu.Unlock()

	return l.park(ctx, w, holders)
}

func (l *MultiReadLock) writeLock(ctx context.Context, owner primitives.OwnerID) error {
	l.mu.Lock()
	if l.tryGrantWrite(owner) {
		l.mu.Unlock()
		return nil
	}

	w := newWaitingThread(owner, l, WriteLock, l.opts.PollPeriod)
	l.waitingWrites = append(l.waitingWrites, w)
	// A competing upgrade may already be resolvable by hand-off.
	l.grantNext()
	holders := l.holdersExcept(owner)
	l.mu.Unlock()

	return l.park(ctx, w, holders)
}

// canGrantRead: l.mu must be held.
func (l *MultiReadLock) canGrantRead(owner primitives.OwnerID) bool {
	if l.writeHolds > 0 {
		return l.writeOwner == owner
	}
	if len(l.waitingWrites) == 0 {
		return true
	}
	// Queued writers keep new readers out, but not an owner already reading:
	// it would wait for itself.
	return slices.Contains(l.readers, owner)
}

// tryGrantWrite: l.mu must be held.
func (l *MultiReadLock) tryGrantWrite(owner primitives.OwnerID) bool {
	if l.writeHolds > 0 {
		if l.writeOwner != owner {
			return false
		}
		l.writeHolds++
		return true
	}
	if !l.onlyReader(owner) {
		return false
	}
	if len(l.waitingWrites) > 0 && len(l.readers) == 0 {
		return false
	}
	l.writeOwner = owner
	l.writeHolds = 1
	return true
}

// onlyReader reports whether every outstanding read hold belongs to owner.
func (l *MultiReadLock) onlyReader(owner primitives.OwnerID) bool {
	for _, r := range l.readers {
		if r != owner {
			return false
		}
	}
	return true
}

func (l *MultiReadLock) waitsForWrite(owner primitives.OwnerID) bool {
	return slices.ContainsFunc(l.waitingWrites, func(w *WaitingThread) bool {
		return w.owner == owner
	})
}

// readersCompatibleWith reports whether the write lock can be handed to
// owner: every remaining reader is owner or is itself queued for write.
func (l *MultiReadLock) readersCompatibleWith(owner primitives.OwnerID) bool {
	for _, r := range l.readers {
		if r != owner && !l.waitsForWrite(r) {
			return false
		}
	}
	return true
}

// grantNext hands the lock to the next waiter(s) it can serve. l.mu must be held.
func (l *MultiReadLock) grantNext() {
	if l.writeHolds > 0 {
		return
	}

	if len(l.waitingWrites) > 0 {
		next := l.waitingWrites[0]
		if l.readersCompatibleWith(next.owner) {
			l.waitingWrites = l.waitingWrites[1:]
			l.writeOwner = next.owner
			l.writeHolds = 1
			next.grant()
		}
		return
	}

	for _, w := range l.waitingReads {
		l.readers = append(l.readers, w.owner)
		w.grant()
	}
	l.waitingReads = nil
}

// park registers w with the deadlock detector and waits for its grant.
func (l *MultiReadLock) park(ctx context.Context, w *WaitingThread, holders []primitives.OwnerID) error {
	detector := l.opts.Detector
	detector.AddResourceWaiter(w.owner, w)
	defer detector.ClearResourceWaiter(w.owner)

	if holder, ok := detector.WouldDeadlock(w.owner, l, holders); ok {
		if l.abandon(w, false) {
			return nil
		}
		err := dberror.Deadlock(multiReadComponent, l.id, w.owner.String(), holder.String())
		logging.WithLock(w.owner, l.id).Warn("deadlock detected, failing lock request",
			"mode", w.mode, "holder", holder)
		return err
	}

	if err := w.DoWait(ctx); err != nil {
		l.abandon(w, true)
		return dberror.LockFailure(multiReadComponent, l.id, w.owner.String(), err)
	}
	return nil
}

// abandon withdraws w from the wait queues. If w was granted in the meantime
// the grant is kept and true is returned, unless undo is set, in which case
// the grant is given back.
func (l *MultiReadLock) abandon(w *WaitingThread, undo bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w.isGranted() {
		if !undo {
			return true
		}
		if w.mode == WriteLock {
			l.releaseOne(w.owner, WriteLock)
		} else {
			l.releaseOne(w.owner, ReadLock)
		}
		l.grantNext()
		return true
	}

	isW := func(x *WaitingThread) bool { return x == w }
	l.waitingReads = slices.DeleteFunc(l.waitingReads, isW)
	l.waitingWrites = slices.DeleteFunc(l.waitingWrites, isW)
	// A withdrawn writer may have been the only thing keeping readers out.
	l.grantNext()
	return false
}

// Release implements Lock.
func (l *MultiReadLock) Release(owner primitives.OwnerID, mode Mode) {
	l.ReleaseCount(owner, mode, 1)
}

// ReleaseCount implements Lock.
func (l *MultiReadLock) ReleaseCount(owner primitives.OwnerID, mode Mode, count int) {
	if mode == NoLock || count <= 0 {
		return
	}

	l.mu.Lock()
	released := 0
	for released < count && l.releaseOne(owner, mode) {
		released++
	}
	l.grantNext()
	l.mu.Unlock()

	if released > 0 {
		l.record(ActionReleased, owner, mode, released)
	}
	if released < count {
		warnRelease(multiReadComponent, l.id, owner, mode,
			fmt.Sprintf("requested %d releases, %d were held", count, released))
	}
}

// releaseOne drops a single hold. l.mu must be held.
func (l *MultiReadLock) releaseOne(owner primitives.OwnerID, mode Mode) bool {
	switch mode {
	case WriteLock:
		if l.writeHolds == 0 || l.writeOwner != owner {
			return false
		}
		l.writeHolds--
		if l.writeHolds == 0 {
			l.writeOwner = primitives.NoOwner
		}
		return true
	case ReadLock:
		i := lastIndex(l.readers, owner)
		if i < 0 {
			return false
		}
		l.readers = slices.Delete(l.readers, i, i+1)
		return true
	}
	return false
}

func (l *MultiReadLock) HasLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeHolds > 0 || len(l.readers) > 0
}

func (l *MultiReadLock) HasLockOwner(owner primitives.OwnerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return (l.writeHolds > 0 && l.writeOwner == owner) || slices.Contains(l.readers, owner)
}

func (l *MultiReadLock) IsLockedForWrite() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeHolds > 0
}

func (l *MultiReadLock) IsLockedForRead(owner primitives.OwnerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.readers, owner)
}

// WriteOwner returns the write holder, or NoOwner.
func (l *MultiReadLock) WriteOwner() primitives.OwnerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeHolds == 0 {
		return primitives.NoOwner
	}
	return l.writeOwner
}

// ReadHolds returns the number of outstanding read holds across all owners.
func (l *MultiReadLock) ReadHolds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.readers)
}

// WakeUp implements Lock.
func (l *MultiReadLock) WakeUp() {
	l.mu.Lock()
	l.grantNext()
	waiters := slices.Concat(l.waitingReads, l.waitingWrites)
	l.mu.Unlock()

	for _, w := range waiters {
		w.signal()
	}
}

// Info implements Lock.
func (l *MultiReadLock) Info() LockInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := LockInfo{
		Type: ResourceLockType,
		Mode: NoLock,
		ID:   l.id,
	}
	if l.writeHolds > 0 {
		info.Mode = WriteLock
		info.Owners = append(info.Owners, l.writeOwner.String())
	} else if len(l.readers) > 0 {
		info.Mode = ReadLock
	}
	for _, r := range l.readers {
		name := r.String()
		if !slices.Contains(info.Owners, name) {
			info.Owners = append(info.Owners, name)
		}
	}
	for _, w := range l.waitingReads {
		info.WaitingForRead = append(info.WaitingForRead, w.owner.String())
	}
	for _, w := range l.waitingWrites {
		info.WaitingForWrite = append(info.WaitingForWrite, w.owner.String())
	}
	return info
}

// holdersExcept lists the distinct current holders other than owner. l.mu must be held.
func (l *MultiReadLock) holdersExcept(owner primitives.OwnerID) []primitives.OwnerID {
	var holders []primitives.OwnerID
	if l.writeHolds > 0 && l.writeOwner != owner {
		holders = append(holders, l.writeOwner)
	}
	for _, r := range l.readers {
		if r != owner && !slices.Contains(holders, r) {
			holders = append(holders, r)
		}
	}
	return holders
}

func (l *MultiReadLock) record(action Action, owner primitives.OwnerID, mode Mode, count int) {
	l.opts.Events.Record(newEvent(action, l.id, ResourceLockType, mode, owner, count))
}

func (l *MultiReadLock) failed(owner primitives.OwnerID, mode Mode, err error) error {
	l.record(ActionAttemptFailed, owner, mode, 1)
	return err
}
