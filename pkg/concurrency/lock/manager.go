package lock

import (
	"runtime"
	"weak"
	"xmlstore/pkg/util/syncutil"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeebo/xxh3"
)

// purgeThreshold is how many collected locks may pile up before Get drains
// them itself instead of waiting for the next periodic Purge.
const purgeThreshold = 1024

// Manager hands out exactly one live lock per identifier. Entries are weak:
// once no caller references a lock it is garbage collected and the next Get
// for its identifier creates a fresh, unheld lock. Holders must keep the
// value returned by Get until they have released it.
type Manager[L any] struct {
	newLock func(id string) *L
	locks   *xsync.MapOf[string, weak.Pointer[L]]

	clearedMu syncutil.Mutex
	cleared   []string
}

// NewManager creates a manager that builds locks with newLock.
func NewManager[L any](newLock func(id string) *L) *Manager[L] {
	return &Manager[L]{
		newLock: newLock,
		locks: xsync.NewMapOfWithHasher[string, weak.Pointer[L]](func(id string, seed uint64) uint64 {
			return xxh3.HashStringSeed(id, seed)
		}),
	}
}

// NewCollectionLocks creates the manager for collection-path locks.
func NewCollectionLocks(opts Options) *Manager[ReentrantLock] {
	opts = opts.withDefaults()
	return NewManager(func(id string) *ReentrantLock {
		return NewReentrantLock(id, opts)
	})
}

// NewResourceLocks creates the manager for document locks.
func NewResourceLocks(opts Options) *Manager[MultiReadLock] {
	opts = opts.withDefaults()
	return NewManager(func(id string) *MultiReadLock {
		return NewMultiReadLock(id, opts)
	})
}

// Get returns the lock for id, creating it if it does not exist or has been
// collected. Callers must not keep the result beyond the operation it guards,
// nor drop it before that operation has released it.
func (m *Manager[L]) Get(id string) *L {
	if m.pendingPurge() >= purgeThreshold {
		m.Purge()
	}

	var live *L
	m.locks.Compute(id, func(old weak.Pointer[L], loaded bool) (weak.Pointer[L], bool) {
		if loaded {
			if l := old.Value(); l != nil {
				live = l
				return old, false
			}
		}
		live = m.newLock(id)
		runtime.AddCleanup(live, m.collected, id)
		return weak.Make(live), false
	})
	return live
}

// collected runs after the lock created for id has been reclaimed.
func (m *Manager[L]) collected(id string) {
	m.clearedMu.Lock()
	m.cleared = append(m.cleared, id)
	m.clearedMu.Unlock()
}

func (m *Manager[L]) pendingPurge() int {
	m.clearedMu.Lock()
	defer m.clearedMu.Unlock()
	return len(m.cleared)
}

// Purge removes registry entries whose lock has been collected and returns
// how many were removed. An identifier whose entry was already replaced by a
// new live lock is left alone.
func (m *Manager[L]) Purge() int {
	m.clearedMu.Lock()
	ids := m.cleared
	m.cleared = nil
	m.clearedMu.Unlock()

	removed := 0
	for _, id := range ids {
		m.locks.Compute(id, func(old weak.Pointer[L], loaded bool) (weak.Pointer[L], bool) {
			dead := loaded && old.Value() == nil
			if dead {
				removed++
			}
			return old, dead
		})
	}
	return removed
}

// Len returns the number of registry entries, including ones whose lock has
// been collected but not yet purged.
func (m *Manager[L]) Len() int {
	return m.locks.Size()
}

// Range calls fn for every live lock until fn returns false.
func (m *Manager[L]) Range(fn func(id string, l *L) bool) {
	m.locks.Range(func(id string, p weak.Pointer[L]) bool {
		l := p.Value()
		if l == nil {
			return true
		}
		return fn(id, l)
	})
}
