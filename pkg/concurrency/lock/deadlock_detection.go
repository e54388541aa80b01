package lock

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"xmlstore/pkg/primitives"
	"xmlstore/pkg/util/syncutil"
)

// DeadlockDetection records who waits for what, so a lock about to block can
// tell whether it would close a wait cycle with the current holder.
//
// Detection is pairwise: only cycles between exactly two owners are seen.
// That covers the crossed collection/resource locking hazard; longer cycles
// are not detected.
//
// One instance is shared by every lock of a database.
type DeadlockDetection struct {
	mu                syncutil.Mutex
	resourceWaiters   map[primitives.OwnerID]*WaitingThread
	collectionWaiters map[primitives.OwnerID]Lock
}

func NewDeadlockDetection() *DeadlockDetection {
	return &DeadlockDetection{
		resourceWaiters:   make(map[primitives.OwnerID]*WaitingThread),
		collectionWaiters: make(map[primitives.OwnerID]Lock),
	}
}

// AddResourceWaiter registers owner as parked on a resource lock.
func (d *DeadlockDetection) AddResourceWaiter(owner primitives.OwnerID, w *WaitingThread) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resourceWaiters[owner] = w
}

// ClearResourceWaiter removes owner's resource wait and returns the lock it
// was waiting on, or nil.
func (d *DeadlockDetection) ClearResourceWaiter(owner primitives.OwnerID) Lock {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.resourceWaiters[owner]
	if !ok {
		return nil
	}
	delete(d.resourceWaiters, owner)
	return w.Lock()
}

// WaitingThread returns owner's resource wait, or nil.
func (d *DeadlockDetection) WaitingThread(owner primitives.OwnerID) *WaitingThread {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resourceWaiters[owner]
}

// AddCollectionWaiter registers owner as blocked on a collection lock.
func (d *DeadlockDetection) AddCollectionWaiter(owner primitives.OwnerID, l Lock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collectionWaiters[owner] = l
}

// ClearCollectionWaiter removes owner's collection wait and returns the lock
// it was waiting on, or nil.
func (d *DeadlockDetection) ClearCollectionWaiter(owner primitives.OwnerID) Lock {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.collectionWaiters[owner]
	if !ok {
		return nil
	}
	delete(d.collectionWaiters, owner)
	return l
}

// IsWaiting reports whether owner is registered as waiting for any lock.
func (d *DeadlockDetection) IsWaiting(owner primitives.OwnerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, onResource := d.resourceWaiters[owner]
	_, onCollection := d.collectionWaiters[owner]
	return onResource || onCollection
}

// DeadlockCheckResource returns b's WaitingThread if b is parked on a
// resource lock currently held by a. a is about to wait for a lock held by b,
// so a non-nil result means the cycle a -> b -> a is closing.
func (d *DeadlockDetection) DeadlockCheckResource(a, b primitives.OwnerID) *WaitingThread {
	if !b.IsValid() || a == b {
		return nil
	}
	w := d.WaitingThread(b)
	if w == nil {
		return nil
	}
	// The latch is not held here: HasLockOwner takes the resource lock's own latch.
	if w.Lock().HasLockOwner(a) {
		return w
	}
	return nil
}

// WouldDeadlock reports whether waiter, about to park on l held by holders,
// forms a cycle with a holder that is itself parked on another resource
// lock held by waiter. Such a cycle has no collection lock to take over.
// Waits on l itself are skipped: competing upgrades on the same lock are
// resolved by the write hand-off.
func (d *DeadlockDetection) WouldDeadlock(waiter primitives.OwnerID, l Lock, holders []primitives.OwnerID) (primitives.OwnerID, bool) {
	for _, h := range holders {
		if h == waiter {
			continue
		}
		w := d.WaitingThread(h)
		if w == nil || w.Lock() == l {
			continue
		}
		if w.Lock().HasLockOwner(waiter) {
			return h, true
		}
	}
	return primitives.NoOwner, false
}

// Dump writes the current wait registries, one owner per line.
func (d *DeadlockDetection) Dump(w io.Writer) error {
	type line struct {
		owner primitives.OwnerID
		text  string
	}

	d.mu.Lock()
	resources := make([]*WaitingThread, 0, len(d.resourceWaiters))
	for _, wt := range d.resourceWaiters {
		resources = append(resources, wt)
	}
	collections := make(map[primitives.OwnerID]Lock, len(d.collectionWaiters))
	for o, l := range d.collectionWaiters {
		collections[o] = l
	}
	d.mu.Unlock()

	lines := make([]line, 0, len(resources)+len(collections))
	for _, wt := range resources {
		info := wt.Lock().Info()
		text := fmt.Sprintf("%s waits for %s %s (%s) held by [%s]",
			wt.Owner(), info.Type, info.ID, wt.Mode(), strings.Join(info.Owners, ", "))
		if wt.IsSuspended() {
			text += " (suspended)"
		}
		lines = append(lines, line{wt.Owner(), text})
	}
	for o, l := range collections {
		info := l.Info()
		lines = append(lines, line{o, fmt.Sprintf("%s waits for %s %s held by [%s]",
			o, info.Type, info.ID, strings.Join(info.Owners, ", "))})
	}
	slices.SortFunc(lines, func(a, b line) int { return cmp.Compare(a.owner, b.owner) })

	if len(lines) == 0 {
		_, err := fmt.Fprintln(w, "no waiting owners")
		return err
	}
	for _, ln := range lines {
		if _, err := fmt.Fprintln(w, ln.text); err != nil {
			return err
		}
	}
	return nil
}
