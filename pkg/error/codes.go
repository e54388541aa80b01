package error

import "fmt"

// Error codes raised by the concurrency core.
const (
	CodeLockFailure      = "LOCK_FAILURE"
	CodeDeadlock         = "DEADLOCK_DETECTED"
	CodeProtocolWarning  = "PROTOCOL_WARNING"
	CodeStaleLock        = "STALE_LOCK_DETECTED"
	CodeReadOnlyFallback = "READ_ONLY_FALLBACK"
	CodeLockFileIO       = "LOCK_FILE_IO"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeDatabaseReadOnly = "DATABASE_READ_ONLY"
)

// Sentinels for errors.Is. They carry no stack and are never returned directly.
var (
	ErrLockFailure      = &DBError{Code: CodeLockFailure}
	ErrDeadlock         = &DBError{Code: CodeDeadlock}
	ErrProtocolWarning  = &DBError{Code: CodeProtocolWarning}
	ErrStaleLock        = &DBError{Code: CodeStaleLock}
	ErrReadOnlyFallback = &DBError{Code: CodeReadOnlyFallback}
	ErrInvalidConfig    = &DBError{Code: CodeInvalidConfig}
	ErrDatabaseReadOnly = &DBError{Code: CodeDatabaseReadOnly}
)

// LockFailure reports an acquisition that could not complete. cause is
// usually the context's cancellation cause.
func LockFailure(component, lockID, owner string, cause error) *DBError {
	return &DBError{
		Code:      CodeLockFailure,
		Category:  ErrCategoryTransient,
		Message:   "lock acquisition failed",
		Detail:    fmt.Sprintf("lock %s, owner %s", lockID, owner),
		Hint:      "abort the protected operation; no lock was granted",
		Operation: "Acquire",
		Component: component,
		Cause:     cause,
		Stack:     captureStack(),
	}
}

// Deadlock reports a wait cycle that takeover cannot break. It also matches
// ErrLockFailure through Unwrap, since the caller must treat it the same way.
func Deadlock(component, lockID, owner, holder string) *DBError {
	return &DBError{
		Code:      CodeDeadlock,
		Category:  ErrCategoryConcurrency,
		Message:   "deadlock detected",
		Detail:    fmt.Sprintf("%s waits for %s held by %s, which waits for a lock held by %s", owner, lockID, holder, owner),
		Hint:      "release held locks and retry",
		Operation: "Acquire",
		Component: component,
		Cause:     ErrLockFailure,
		Stack:     captureStack(),
	}
}

// ProtocolWarning describes a release that did not match a held lock. It is
// only ever logged.
func ProtocolWarning(component, lockID, owner, detail string) *DBError {
	return &DBError{
		Code:      CodeProtocolWarning,
		Category:  ErrCategoryUser,
		Message:   "released a lock that was not held",
		Detail:    fmt.Sprintf("lock %s, owner %s: %s", lockID, owner, detail),
		Hint:      "the owner was possibly interrupted while acquiring",
		Operation: "Release",
		Component: component,
		Stack:     captureStack(),
	}
}

// ReadOnlyFallback reports that the lock file could not be created or
// written; the database should continue read-only.
func ReadOnlyFallback(path string, cause error) *DBError {
	return &DBError{
		Code:      CodeReadOnlyFallback,
		Category:  ErrCategorySystem,
		Message:   "cannot write lock file",
		Detail:    path,
		Hint:      "check permissions of the data directory; opening read-only",
		Operation: "TryLock",
		Component: "FileLock",
		Cause:     cause,
		Stack:     captureStack(),
	}
}
