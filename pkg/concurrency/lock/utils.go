package lock

import (
	"errors"
	"fmt"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"
	"xmlstore/pkg/primitives"
)

// lastIndex returns the index of the last occurrence of v in s, or -1.
func lastIndex[T comparable](s []T, v T) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == v {
			return i
		}
	}
	return -1
}

// warnRelease logs a release that did not match a held lock. The owner may
// have been interrupted while acquiring, so this is never fatal.
func warnRelease(component, id string, owner primitives.OwnerID, mode Mode, detail string) {
	err := dberror.ProtocolWarning(component, id, owner.String(), detail)
	logging.WithLock(owner, id).Warn("possible lock problem: released a lock that was not held",
		"mode", mode,
		"error", err.Error(),
		"stack", err.FormatStack())
}

var errInvalidOwner = errors.New("lock owner must be a valid OwnerID")

// validate rejects requests no lock can serve.
func validate(owner primitives.OwnerID, mode Mode) error {
	if !owner.IsValid() {
		return errInvalidOwner
	}
	if mode != ReadLock && mode != WriteLock {
		return fmt.Errorf("unknown lock mode %d", mode)
	}
	return nil
}
