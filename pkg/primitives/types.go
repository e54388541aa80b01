package primitives

// OwnerID identifies the logical holder of a lock. Every nested acquire and
// release issued by the same holder must present the same OwnerID; the locks
// never look at goroutine identity.
//
// OwnerID is comparable and hashable so it can key the deadlock detector's
// wait registries and the reader lists of multi-reader locks.
type OwnerID uint64

// NoOwner marks an unheld lock. It is never returned by NewOwnerID.
const NoOwner OwnerID = 0
