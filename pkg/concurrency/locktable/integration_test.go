package locktable_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/concurrency/locktable"
	"xmlstore/pkg/primitives"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable_FedByLocks(t *testing.T) {
	cfg := locktable.DefaultConfig()
	cfg.TraceCallSites = true
	table := locktable.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- table.Run(ctx) }()

	docs := lock.NewResourceLocks(lock.Options{Events: table})
	doc := docs.Get("doc1")
	t1, t2 := primitives.NewOwnerID(), primitives.NewOwnerID()

	require.NoError(t, doc.Acquire(ctx, t1, lock.WriteLock))
	require.NoError(t, table.Sync(ctx))

	acquired := table.Acquired()
	require.Len(t, acquired, 1)
	assert.Equal(t, t1.String(), acquired[0].Owner)
	assert.Equal(t, lock.WriteLock, acquired[0].Mode)

	reader := make(chan error, 1)
	go func() { reader <- doc.Acquire(ctx, t2, lock.ReadLock) }()
	require.Eventually(t, func() bool {
		_ = table.Sync(ctx)
		return len(table.Attempting()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	doc.Release(t1, lock.WriteLock)
	require.NoError(t, <-reader)
	doc.Release(t2, lock.ReadLock)
	assert.False(t, doc.HasLock())

	require.NoError(t, table.Sync(ctx))
	assert.Empty(t, table.Attempting())
	assert.Empty(t, table.Acquired())

	table.Close()
	require.NoError(t, <-done)
}

type reasons struct{ got []string }

func (r *reasons) Accept(ev lock.Event) { r.got = append(r.got, ev.Reason) }

func TestLockTable_TraceCallSites(t *testing.T) {
	cfg := locktable.DefaultConfig()
	cfg.TraceCallSites = true
	table := locktable.New(cfg)
	r := &reasons{}
	table.RegisterListener(r)

	l := lock.NewReentrantLock("/db", lock.Options{Events: table})
	owner := primitives.NewOwnerID()
	require.True(t, l.Attempt(owner, lock.WriteLock))
	l.Release(owner, lock.WriteLock)

	table.Close()
	require.NoError(t, table.Run(context.Background()))

	require.Len(t, r.got, 3)
	for _, reason := range r.got {
		assert.True(t, strings.HasPrefix(reason, "xmlstore/pkg/concurrency/locktable_test.TestLockTable_TraceCallSites"), reason)
	}
}
