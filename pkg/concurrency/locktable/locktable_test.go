package locktable

import (
	"context"
	"sync"
	"testing"
	"time"
	"xmlstore/pkg/concurrency/lock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []lock.Event
}

func (c *collector) Accept(ev lock.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.ID
	}
	return out
}

// startTable runs a table's consumer for the duration of the test.
func startTable(t *testing.T, cfg Config) *LockTable {
	t.Helper()
	table := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- table.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return table
}

func syncTable(t *testing.T, table *LockTable) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, table.Sync(ctx))
}

func event(action lock.Action, id string, mode lock.Mode, owner string) lock.Event {
	return lock.Event{
		Action: action,
		ID:     id,
		Type:   lock.ResourceLockType,
		Mode:   mode,
		Owner:  owner,
		Count:  1,
	}
}

func TestLockTable_Projections(t *testing.T) {
	table := startTable(t, DefaultConfig())

	table.Record(event(lock.ActionAttempt, "doc1", lock.WriteLock, "owner-1"))
	table.Record(event(lock.ActionAttempt, "doc1", lock.ReadLock, "owner-2"))
	syncTable(t, table)

	attempting := table.Attempting()
	require.Len(t, attempting, 2)
	assert.Equal(t, lock.ReadLock, attempting[0].Mode)
	assert.Equal(t, "owner-2", attempting[0].Owner)
	assert.Empty(t, table.Acquired())

	table.Record(event(lock.ActionAcquired, "doc1", lock.WriteLock, "owner-1"))
	table.Record(event(lock.ActionAttemptFailed, "doc1", lock.ReadLock, "owner-2"))
	syncTable(t, table)

	assert.Empty(t, table.Attempting())
	assert.Equal(t, []Entry{{
		ID: "doc1", Type: lock.ResourceLockType, Mode: lock.WriteLock, Owner: "owner-1", Count: 1,
	}}, table.Acquired())
}

func TestLockTable_ReferenceCounts(t *testing.T) {
	table := startTable(t, DefaultConfig())

	const acquired, released = 5, 3
	for range acquired {
		table.Record(event(lock.ActionAcquired, "doc1", lock.ReadLock, "owner-1"))
	}
	for range released {
		table.Record(event(lock.ActionReleased, "doc1", lock.ReadLock, "owner-1"))
	}
	syncTable(t, table)
	assert.Equal(t, acquired-released, table.HoldCount("doc1", lock.ResourceLockType, lock.ReadLock, "owner-1"))

	// A bulk release carries its count.
	bulk := event(lock.ActionReleased, "doc1", lock.ReadLock, "owner-1")
	bulk.Count = acquired - released
	table.Record(bulk)
	syncTable(t, table)
	assert.Empty(t, table.Acquired())

	// Releasing more than was acquired never goes negative.
	table.Record(event(lock.ActionReleased, "doc1", lock.ReadLock, "owner-1"))
	table.Record(event(lock.ActionAcquired, "doc1", lock.ReadLock, "owner-1"))
	syncTable(t, table)
	assert.Equal(t, 1, table.HoldCount("doc1", lock.ResourceLockType, lock.ReadLock, "owner-1"))
}

func TestLockTable_OrderedByID(t *testing.T) {
	table := startTable(t, DefaultConfig())

	for _, id := range []string{"c", "a", "b"} {
		table.Record(event(lock.ActionAcquired, id, lock.WriteLock, "owner-1"))
	}
	syncTable(t, table)

	var ids []string
	for _, e := range table.Acquired() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestLockTable_ListenersSeeEventsInOrder(t *testing.T) {
	table := startTable(t, DefaultConfig())
	first, second := &collector{}, &collector{}
	table.RegisterListener(first)
	table.RegisterListener(second)

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				ev := event(lock.ActionAttempt, "doc", lock.ReadLock, "owner")
				ev.Count = p*100 + i
				table.Record(ev)
			}
		}()
	}
	wg.Wait()
	syncTable(t, table)

	require.Len(t, first.events, 200)
	assert.Equal(t, first.events, second.events)

	// Each producer's events keep their relative order.
	last := map[int]int{}
	for _, ev := range first.events {
		p := ev.Count / 100
		if prev, ok := last[p]; ok {
			assert.Less(t, prev, ev.Count)
		}
		last[p] = ev.Count
	}

	assert.True(t, table.DeregisterListener(first))
	assert.False(t, table.DeregisterListener(first))
	table.Record(event(lock.ActionAttempt, "late", lock.ReadLock, "owner"))
	syncTable(t, table)
	assert.Len(t, first.ids(), 200)
	assert.Equal(t, "late", second.ids()[200])
}

func TestLockTable_IgnoredIDs(t *testing.T) {
	table := startTable(t, DefaultConfig())
	c := &collector{}
	table.RegisterListener(c)

	table.Record(event(lock.ActionAcquired, "dom.dbx", lock.WriteLock, "owner-1"))
	table.Record(event(lock.ActionAcquired, "CollectionCache", lock.WriteLock, "owner-1"))
	table.Record(event(lock.ActionAcquired, "/db/apps", lock.WriteLock, "owner-1"))
	syncTable(t, table)

	assert.Equal(t, []string{"/db/apps"}, c.ids())
	assert.Len(t, table.Acquired(), 1)
}

func TestLockTable_Disabled(t *testing.T) {
	table := startTable(t, Config{Enabled: false})
	c := &collector{}
	table.RegisterListener(c)

	table.Record(event(lock.ActionAcquired, "doc1", lock.WriteLock, "owner-1"))
	syncTable(t, table)

	assert.False(t, table.Enabled())
	assert.Empty(t, c.ids())
	assert.Empty(t, table.Acquired())
}

func TestLockTable_CloseDrains(t *testing.T) {
	table := New(DefaultConfig())
	c := &collector{}
	table.RegisterListener(c)

	// Queued before the consumer starts.
	for range 10 {
		table.Record(event(lock.ActionAttempt, "doc1", lock.ReadLock, "owner-1"))
	}
	table.Close()
	table.Record(event(lock.ActionAttempt, "dropped", lock.ReadLock, "owner-1"))

	require.NoError(t, table.Run(context.Background()))
	assert.Len(t, c.ids(), 10)
	assert.NotContains(t, c.ids(), "dropped")

	assert.Error(t, table.Run(context.Background()))
}

func TestLockTable_SyncAfterStop(t *testing.T) {
	table := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, table.Run(ctx))

	table.Record(event(lock.ActionAttempt, "doc1", lock.ReadLock, "owner-1"))
	assert.Error(t, table.Sync(context.Background()))
}

func TestLockTable_SyncTimeout(t *testing.T) {
	table := New(DefaultConfig())
	table.Record(event(lock.ActionAttempt, "doc1", lock.ReadLock, "owner-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, table.Sync(ctx), context.DeadlineExceeded)
}
