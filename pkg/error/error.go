// Package error defines the structured error type shared by the lock
// subsystem, the lock-file guard and the database service.
package error

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCategory classifies errors by their nature and appropriate handling strategy.
// This classification helps determine whether an error should trigger retries,
// user notifications, or system alerts.
type ErrorCategory int

const (
	// ErrCategoryUser represents errors caused by invalid caller input.
	// Examples: malformed configuration, unknown lock mode.
	// These errors are typically fixable by modifying the request.
	ErrCategoryUser ErrorCategory = iota

	// ErrCategoryTransient represents temporary errors that might succeed on retry.
	// Examples: interrupted lock acquisition, a lock file still held by a live process.
	// Clients may retry these after aborting the protected operation.
	ErrCategoryTransient

	// ErrCategorySystem represents errors requiring administrator intervention.
	// Examples: the data directory is not writable, the lock file cannot be created.
	// The database falls back to read-only mode on these.
	ErrCategorySystem

	// ErrCategoryData represents errors related to data corruption or integrity.
	// Examples: a lock file with a foreign magic signature.
	ErrCategoryData

	// ErrCategoryConcurrency represents errors from conflicting lock owners.
	// Examples: an unbreakable deadlock between two resource locks.
	ErrCategoryConcurrency
)

// DBError represents a structured database error with rich context information.
type DBError struct {
	// Code is a unique identifier for this error type (e.g., "DEADLOCK_DETECTED", "LOCK_FAILURE").
	Code string

	// Category classifies the error for appropriate handling strategy.
	Category ErrorCategory

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific error instance.
	// Example: "lock /db/apps held by owner-3" where Message might be "lock acquisition failed".
	Detail string

	// Hint suggests how the user might fix or work around this error.
	// Example: "abort the operation and release held locks".
	Hint string

	// Operation identifies the database operation that was being performed when the error occurred.
	// Examples: "Acquire", "Release", "TryLock", "Heartbeat".
	Operation string

	// Component identifies the system component where the error originated.
	// Examples: "ReentrantLock", "MultiReadLock", "FileLock".
	Component string

	// Cause is the underlying error that triggered this database error.
	// This enables error chaining while preserving the original error context.
	Cause error

	// Stack contains the call stack where this error was created.
	// Used for debugging and is automatically captured in New() and Wrap().
	Stack []uintptr
}

// New creates a new DBError with the specified code, category, and message.
func New(category ErrorCategory, code, message string) *DBError {
	err := &DBError{
		Code:     code,
		Category: category,
		Message:  message,
		Stack:    captureStack(),
	}
	return err
}

// Wrap wraps an existing error with database-specific context information.
// If the error is already a DBError, it enriches the existing error with
// operation and component context (only if not already set).
func Wrap(err error, code, operation, component string) *DBError {
	if err == nil {
		return nil
	}

	if dbErr, ok := err.(*DBError); ok {
		if dbErr.Operation == "" {
			dbErr.Operation = operation
		}
		if dbErr.Component == "" {
			dbErr.Component = component
		}
		return dbErr
	}

	return &DBError{
		Code:      code,
		Category:  ErrCategorySystem,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     err,
		Stack:     captureStack(),
	}
}

// captureStack captures the current call stack for debugging purposes.
// It skips the first 3 frames to exclude captureStack, New/Wrap, and the
// immediate caller, focusing on the actual error origin.
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard Go error interface
//
// The format follows the pattern:
// [ERROR_CODE] Message: Detail (operation: Operation, component: Component) caused by: underlying error
func (e *DBError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Is reports whether target is a DBError with the same code, so sentinel
// values such as ErrLockFailure work with errors.Is.
func (e *DBError) Is(target error) bool {
	t, ok := target.(*DBError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Unwrap returns the underlying cause error, enabling error chain traversal
// with Go's standard error handling functions like errors.Is and errors.As.
func (e *DBError) Unwrap() error {
	return e.Cause
}

// FormatStack returns a human-readable stack trace for debugging purposes.
func (e *DBError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)

	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n",
			f.Function, f.File, f.Line))
		if !more {
			break
		}
	}

	return b.String()
}
