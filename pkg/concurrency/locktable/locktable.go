package locktable

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/logging"
	"xmlstore/pkg/util/syncutil"
)

// Listener observes the event stream in the order the consumer applies it.
// Accept runs on the consumer goroutine and must not block for long.
// Listeners are compared with == on deregistration, so implementations
// should be pointers.
type Listener interface {
	Accept(ev lock.Event)
}

var (
	errAlreadyRunning = errors.New("lock table consumer already running")
	errClosed         = errors.New("lock table closed")
)

// LockTable is the lock audit log of one database. It implements
// lock.EventSink.
type LockTable struct {
	cfg     Config
	ignored map[string]struct{}

	qmu      syncutil.Mutex
	queue    []lock.Event
	enqueued uint64
	closed   bool
	notify   chan struct{} // cap 1, pokes the consumer

	running atomic.Bool

	progMu    syncutil.Mutex
	processed uint64
	progress  chan struct{} // closed and replaced whenever processed moves
	stopped   bool

	lmu       syncutil.Mutex
	listeners []Listener

	pmu        syncutil.Mutex
	attempting *projection
	acquired   *projection
}

// New creates a lock table. Events queue up until Run is started.
func New(cfg Config) *LockTable {
	ignored := make(map[string]struct{}, len(cfg.IgnoredIDs))
	for _, id := range cfg.IgnoredIDs {
		ignored[id] = struct{}{}
	}
	return &LockTable{
		cfg:        cfg,
		ignored:    ignored,
		notify:     make(chan struct{}, 1),
		progress:   make(chan struct{}),
		attempting: newProjection(),
		acquired:   newProjection(),
	}
}

// Enabled reports whether Record keeps events at all.
func (t *LockTable) Enabled() bool { return t.cfg.Enabled }

// Record queues ev for the consumer. It never blocks on the consumer.
func (t *LockTable) Record(ev lock.Event) {
	if !t.cfg.Enabled {
		return
	}
	if _, skip := t.ignored[ev.ID]; skip {
		return
	}
	if t.cfg.TraceCallSites && ev.Reason == "" {
		ev.Reason = callSite()
	}

	t.qmu.Lock()
	if t.closed {
		t.qmu.Unlock()
		return
	}
	t.queue = append(t.queue, ev)
	t.enqueued++
	t.qmu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// RegisterListener adds l; it sees events applied from now on.
func (t *LockTable) RegisterListener(l Listener) {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	t.listeners = append(t.listeners, l)
}

// DeregisterListener removes l. It reports whether l was registered.
func (t *LockTable) DeregisterListener(l Listener) bool {
	t.lmu.Lock()
	defer t.lmu.Unlock()

	i := slices.IndexFunc(t.listeners, func(x Listener) bool { return x == l })
	if i < 0 {
		return false
	}
	t.listeners = slices.Delete(t.listeners, i, i+1)
	return true
}

// Run is the consumer loop. It returns after Close once every queued event
// has been applied, or when ctx is done.
func (t *LockTable) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer t.stop()

	log := logging.WithComponent("locktable")
	log.Debug("lock table consumer started")

	for {
		t.qmu.Lock()
		batch := t.queue
		t.queue = nil
		closed := t.closed
		t.qmu.Unlock()

		if len(batch) > 0 {
			t.apply(batch)
			continue
		}
		if closed {
			log.Debug("lock table consumer stopped")
			return nil
		}

		select {
		case <-t.notify:
		case <-ctx.Done():
			log.Debug("lock table consumer cancelled")
			return nil
		}
	}
}

func (t *LockTable) apply(batch []lock.Event) {
	t.lmu.Lock()
	listeners := slices.Clone(t.listeners)
	t.lmu.Unlock()

	for _, ev := range batch {
		t.pmu.Lock()
		t.project(ev)
		t.pmu.Unlock()

		for _, l := range listeners {
			l.Accept(ev)
		}
	}

	t.progMu.Lock()
	t.processed += uint64(len(batch))
	close(t.progress)
	t.progress = make(chan struct{})
	t.progMu.Unlock()
}

// project folds ev into the projections. t.pmu must be held.
func (t *LockTable) project(ev lock.Event) {
	switch ev.Action {
	case lock.ActionAttempt:
		t.attempting.add(ev, 1)
	case lock.ActionAttemptFailed:
		t.attempting.remove(ev, 1)
	case lock.ActionAcquired:
		t.attempting.remove(ev, 1)
		t.acquired.add(ev, max(ev.Count, 1))
	case lock.ActionReleased:
		t.acquired.remove(ev, max(ev.Count, 1))
	}
}

func (t *LockTable) stop() {
	t.progMu.Lock()
	t.stopped = true
	close(t.progress)
	t.progress = make(chan struct{})
	t.progMu.Unlock()
}

// Sync waits until every event recorded before the call has been applied
// and handed to the listeners.
func (t *LockTable) Sync(ctx context.Context) error {
	t.qmu.Lock()
	target := t.enqueued
	t.qmu.Unlock()

	for {
		t.progMu.Lock()
		processed, stopped, progress := t.processed, t.stopped, t.progress
		t.progMu.Unlock()

		if processed >= target {
			return nil
		}
		if stopped {
			return errClosed
		}

		select {
		case <-progress:
		case <-ctx.Done():
			return fmt.Errorf("lock table sync: %w", context.Cause(ctx))
		}
	}
}

// Close stops accepting events. A running consumer drains what is queued
// and then returns.
func (t *LockTable) Close() {
	t.qmu.Lock()
	t.closed = true
	t.qmu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Attempting returns the outstanding attempts, ordered by lock id.
func (t *LockTable) Attempting() []Entry {
	t.pmu.Lock()
	defer t.pmu.Unlock()
	return t.attempting.snapshot()
}

// Acquired returns the held locks with their reference counts, ordered by
// lock id.
func (t *LockTable) Acquired() []Entry {
	t.pmu.Lock()
	defer t.pmu.Unlock()
	return t.acquired.snapshot()
}

// HoldCount returns the projected reference count for one key.
func (t *LockTable) HoldCount(id string, typ lock.Type, mode lock.Mode, owner string) int {
	t.pmu.Lock()
	defer t.pmu.Unlock()
	return t.acquired.count(lock.Event{ID: id, Type: typ, Mode: mode, Owner: owner})
}

const (
	lockPkg      = "xmlstore/pkg/concurrency/lock."
	lockTablePkg = "xmlstore/pkg/concurrency/locktable."
)

// callSite names the first caller outside the lock packages.
func callSite() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, lockPkg) && !strings.HasPrefix(f.Function, lockTablePkg) {
			return fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
		}
		if !more {
			return ""
		}
	}
}
