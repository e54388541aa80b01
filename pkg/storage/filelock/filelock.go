// Package filelock keeps a second database process away from a data
// directory.
//
// The owning process creates a lock file and rewrites a timestamp in it
// periodically. Another process finding the file treats it as held while
// the timestamp is fresh and as left over from a crashed run once it is
// older than the stale window.
package filelock

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"

	golock "github.com/viney-shih/go-lock"
)

const (
	// DefaultStaleWindow is how old a heartbeat may be before the lock
	// file is considered abandoned.
	DefaultStaleWindow = 10100 * time.Millisecond
	// DefaultHeartbeatPeriod keeps two beats inside one stale window.
	DefaultHeartbeatPeriod = 5 * time.Second

	// maxInspections bounds how often an existing lock file is examined.
	maxInspections = 2
	recheckSlack   = 100 * time.Millisecond
)

// Options tunes a FileLock. Zero values select the defaults.
type Options struct {
	StaleWindow     time.Duration `mapstructure:"stale_window"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat"`
}

func (o Options) withDefaults() Options {
	if o.StaleWindow <= 0 {
		o.StaleWindow = DefaultStaleWindow
	}
	if o.HeartbeatPeriod <= 0 {
		o.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	return o
}

// FileLock is the lock file of one data directory.
type FileLock struct {
	path string
	opts Options

	// latch guards file and the heartbeat lifecycle.
	latch golock.Mutex
	file  *os.File
	stop  chan struct{}
	done  chan struct{}
}

func New(path string, opts Options) *FileLock {
	return &FileLock{
		path:  path,
		opts:  opts.withDefaults(),
		latch: golock.NewCASMutex(),
	}
}

func (f *FileLock) Path() string { return f.path }

// TryLock takes the lock file. It returns false without error when another
// live process holds it. If the file cannot be created or written the error
// is a READ_ONLY_FALLBACK DBError and the caller should continue read-only.
func (f *FileLock) TryLock(ctx context.Context) (bool, error) {
	if !f.latch.TryLockWithContext(ctx) {
		return false, dberror.LockFailure("FileLock", f.path, "process", context.Cause(ctx))
	}
	defer f.latch.Unlock()

	if f.file != nil {
		return true, nil
	}

	log := logging.WithFile(f.path)
	for inspection := 1; ; inspection++ {
		heartbeat, err := readRecord(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if inspection > maxInspections {
			return false, nil
		}

		if err != nil {
			log.Warn("failed to read lock file", "error", err)
		} else if f.fresh(heartbeat) {
			// The other process may have died right after its last beat;
			// give it one full window to prove it is alive.
			if err := sleep(ctx, f.opts.StaleWindow+recheckSlack); err != nil {
				return false, dberror.LockFailure("FileLock", f.path, "process", err)
			}
			heartbeat, err = readRecord(f.path)
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err == nil && f.fresh(heartbeat) {
				log.Info("found a valid heartbeat", "heartbeat", heartbeat)
				return false, nil
			}
		}

		log.Info("stale lock file detected, removing it",
			"code", dberror.CodeStaleLock,
			"heartbeat", heartbeat)
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, dberror.ReadOnlyFallback(f.path, err)
		}
	}

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		// Lost a race with another process.
		return false, nil
	}
	if err != nil {
		return false, dberror.ReadOnlyFallback(f.path, err)
	}
	if err := writeBeat(file); err != nil {
		file.Close()
		os.Remove(f.path)
		return false, dberror.ReadOnlyFallback(f.path, err)
	}

	f.file = file
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.heartbeat(f.stop, f.done)

	log.Debug("lock file acquired", "heartbeat_period", f.opts.HeartbeatPeriod)
	return true, nil
}

func (f *FileLock) fresh(heartbeat time.Time) bool {
	return time.Since(heartbeat) < f.opts.StaleWindow
}

func (f *FileLock) heartbeat(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.opts.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// A busy latch skips one beat; the next still lands inside the window.
		if !f.latch.TryLockWithTimeout(f.opts.HeartbeatPeriod / 2) {
			continue
		}
		file := f.file
		var err error
		if file != nil {
			err = writeBeat(file)
		}
		f.latch.Unlock()

		if err != nil {
			logging.WithFile(f.path).Error("failed to write lock file heartbeat",
				"error", dberror.Wrap(err, dberror.CodeLockFileIO, "Heartbeat", "FileLock").Error())
		}
	}
}

func writeBeat(file *os.File) error {
	if _, err := file.WriteAt(encodeRecord(time.Now()), 0); err != nil {
		return err
	}
	return file.Sync()
}

// Release stops the heartbeat and deletes the lock file. Releasing a lock
// that is not held does nothing.
func (f *FileLock) Release() error {
	f.latch.Lock()
	file, stop, done := f.file, f.stop, f.done
	f.file, f.stop, f.done = nil, nil, nil
	f.latch.Unlock()

	if file == nil {
		return nil
	}
	close(stop)
	<-done

	closeErr := file.Close()
	removeErr := os.Remove(f.path)
	if errors.Is(removeErr, fs.ErrNotExist) {
		removeErr = nil
	}
	if err := errors.Join(closeErr, removeErr); err != nil {
		return dberror.Wrap(err, dberror.CodeLockFileIO, "Release", "FileLock")
	}
	logging.WithFile(f.path).Debug("lock file released")
	return nil
}

// IsLocked reports whether this process holds the lock file.
func (f *FileLock) IsLocked() bool {
	f.latch.Lock()
	defer f.latch.Unlock()
	return f.file != nil
}

// LastHeartbeat reads the timestamp currently stored in the lock file,
// whoever wrote it.
func (f *FileLock) LastHeartbeat() (time.Time, error) {
	t, err := readRecord(f.path)
	if err != nil {
		return time.Time{}, dberror.Wrap(err, dberror.CodeLockFileIO, "LastHeartbeat", "FileLock")
	}
	return t, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
