package logging

import (
	"log/slog"
)

// WithOwner creates a logger carrying the lock owner.
//
// Example:
//
//	log := logging.WithOwner(owner)
//	log.Debug("releasing all holds")
func WithOwner(owner any) *slog.Logger {
	return GetLogger().With("owner", owner)
}

// WithLock creates a logger with lock context.
// Use this inside lock implementations and the deadlock detector.
//
// Example:
//
//	log := logging.WithLock(owner, "/db/apps")
//	log.Info("lock taken over", "mode", mode)
func WithLock(owner any, lockID string) *slog.Logger {
	return GetLogger().With("owner", owner, "lock", lockID)
}

// WithFile creates a logger with lock-file context.
func WithFile(path string) *slog.Logger {
	return GetLogger().With("file", path)
}

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("locktable")
//	log.Info("consumer started")
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithError creates a logger with error context.
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}
