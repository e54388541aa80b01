package primitives

import (
	"fmt"
	"sync/atomic"
)

var ownerCounter atomic.Uint64

// NewOwnerID returns a process-unique owner identifier.
func NewOwnerID() OwnerID {
	return OwnerID(ownerCounter.Add(1))
}

// IsValid reports whether the id names an actual holder.
func (o OwnerID) IsValid() bool {
	return o != NoOwner
}

// AsUint64 returns the OwnerID as a uint64 for hashing or serialization.
func (o OwnerID) AsUint64() uint64 {
	return uint64(o)
}

// String returns the owner name used in lock diagnostics and events.
func (o OwnerID) String() string {
	if o == NoOwner {
		return "none"
	}
	return fmt.Sprintf("owner-%d", uint64(o))
}
