package lock

// Mode is the kind of hold requested from or granted by a lock.
type Mode int

const (
	NoLock Mode = iota
	ReadLock
	WriteLock
)

func (m Mode) String() string {
	switch m {
	case NoLock:
		return "NO_LOCK"
	case ReadLock:
		return "READ_LOCK"
	case WriteLock:
		return "WRITE_LOCK"
	default:
		return "UNKNOWN"
	}
}

// Type tells the two lock implementations apart in diagnostics and in the
// lock table.
type Type int

const (
	// CollectionLockType locks are ReentrantLocks keyed by collection path.
	CollectionLockType Type = iota
	// ResourceLockType locks are MultiReadLocks keyed by document id.
	ResourceLockType
)

func (t Type) String() string {
	switch t {
	case CollectionLockType:
		return "COLLECTION"
	case ResourceLockType:
		return "RESOURCE"
	default:
		return "UNKNOWN"
	}
}
