// Package lock implements the collection and document locks of xmlstore.
//
// # Overview
//
// Two kinds of lock protect the database. A collection lock
// ([ReentrantLock]) has a single owner at a time; the owner may nest
// acquisitions in read or write mode and must release each of them. A
// resource lock ([MultiReadLock]) guards one document and admits many
// readers or a single writer, preferring queued writers over new readers.
//
// Owners are identified by [primitives.OwnerID] and passed explicitly on
// every call. Blocking calls take a [context.Context]; cancelling it makes
// the call fail with a LOCK_FAILURE error.
//
// # Deadlocks
//
// An owner holding a document lock may need a collection lock held by an
// owner that is waiting for that very document. [DeadlockDetection] records
// every parked owner so that the collection lock can spot the cycle. The
// asking owner then takes the collection lock over; the displaced owner is
// suspended and gets its holds back when the collection lock is released.
//
// A cycle between two document locks cannot be broken this way, so the
// request that would close it fails with DEADLOCK_DETECTED. Cycles of three
// or more owners are not detected.
//
// # Registries
//
// [Manager] returns one live lock per identifier and forgets locks nobody
// references any more. Callers keep identifiers, never lock values, across
// operations.
//
// Every attempt, grant and release is reported to an [EventSink], normally
// the database's lock table.
package lock
