package lock

import (
	"context"
	"testing"
	"time"
	"xmlstore/pkg/primitives"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWaiter() *WaitingThread {
	l := NewMultiReadLock("doc", testOptions())
	return newWaitingThread(primitives.NewOwnerID(), l, ReadLock, testPoll)
}

func TestWaitingThread_Grant(t *testing.T) {
	w := newTestWaiter()
	done := make(chan error, 1)
	go func() { done <- w.DoWait(context.Background()) }()

	requireBlocked(t, done)
	w.grant()
	require.NoError(t, waitResult(t, done))
}

func TestWaitingThread_SuspendedStaysParked(t *testing.T) {
	w := newTestWaiter()
	w.Suspend()
	assert.True(t, w.IsSuspended())

	done := make(chan error, 1)
	go func() { done <- w.DoWait(context.Background()) }()

	w.grant()
	requireBlocked(t, done)

	w.LockReleased()
	assert.False(t, w.IsSuspended())
	require.NoError(t, waitResult(t, done))
}

func TestWaitingThread_Cancelled(t *testing.T) {
	w := newTestWaiter()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.DoWait(ctx) }()
	cancel()

	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
}

func TestWaitingThread_CancelledWhileDormant(t *testing.T) {
	w := newTestWaiter()
	w.Suspend()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.DoWait(ctx) }()
	cancel()

	// The cancellation is only reported once the owner is resumed.
	requireBlocked(t, done)
	w.LockReleased()
	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
}

func TestWaitingThread_Accessors(t *testing.T) {
	l := NewMultiReadLock("doc", testOptions())
	o := primitives.NewOwnerID()
	w := newWaitingThread(o, l, WriteLock, time.Second)

	assert.Equal(t, o, w.Owner())
	assert.Equal(t, WriteLock, w.Mode())
	assert.Equal(t, Lock(l), w.Lock())
}
