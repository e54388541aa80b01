// Package locktable keeps an audit log of lock activity.
//
// Locks report every attempt, grant, failure and release as a [lock.Event].
// [LockTable.Record] only queues the event; a single consumer goroutine
// started with [LockTable.Run] applies events in order to two projections
// (owners attempting a lock, owners holding it) and hands each event to the
// registered listeners.
//
// The projections lag behind the locks and are for diagnostics only. Nothing
// in the locking path reads them, and disabling the table does not change
// how locks behave.
package locktable
