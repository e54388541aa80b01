// Package database wires the lock services of one database instance: the
// deadlock detector, the lock table, the collection and document lock
// registries and the data directory's lock file.
package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/concurrency/locktable"
	"xmlstore/pkg/config"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/logging"
	"xmlstore/pkg/primitives"
	"xmlstore/pkg/storage/filelock"

	"golang.org/x/sync/errgroup"
)

// Database owns every lock service of one instance. Several instances may
// live in one process as long as they use different data directories.
type Database struct {
	cfg config.Config

	detector    *lock.DeadlockDetection
	table       *locktable.LockTable
	collections *lock.Manager[lock.ReentrantLock]
	resources   *lock.Manager[lock.MultiReadLock]
	fileLock    *filelock.FileLock
	readOnly    bool

	cancel    context.CancelFunc
	workers   *errgroup.Group
	closeOnce sync.Once
	closeErr  error

	stats *DatabaseStats
}

// DatabaseStats counts guarded operations.
type DatabaseStats struct {
	Operations   int64
	LockFailures int64
	Deadlocks    int64
	mutex        sync.RWMutex
}

// DatabaseInfo is a snapshot of instance metadata and counters.
type DatabaseInfo struct {
	DataDir         string
	ReadOnly        bool
	CollectionLocks int
	ResourceLocks   int
	Operations      int64
	LockFailures    int64
	Deadlocks       int64
}

// Open starts a database instance on cfg.DataDir. If the lock file cannot be
// taken, because another process holds it or the directory is not writable,
// the instance opens read-only instead of failing. ctx only bounds the
// startup; background work runs until Close.
func Open(ctx context.Context, cfg config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	detector := lock.NewDeadlockDetection()
	table := locktable.New(cfg.LockTable)
	opts := lock.Options{
		Detector:   detector,
		Events:     table,
		PollPeriod: cfg.PollPeriod,
	}

	db := &Database{
		cfg:         cfg,
		detector:    detector,
		table:       table,
		collections: lock.NewCollectionLocks(opts),
		resources:   lock.NewResourceLocks(opts),
		fileLock:    filelock.New(filepath.Join(cfg.DataDir, cfg.LockFile), cfg.FileLock),
		stats:       &DatabaseStats{},
	}

	log := logging.WithFile(db.fileLock.Path())
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Warn("cannot create data directory, opening read-only", "error", err)
		db.readOnly = true
	} else {
		ok, err := db.fileLock.TryLock(ctx)
		switch {
		case errors.Is(err, dberror.ErrReadOnlyFallback):
			log.Warn("cannot write lock file, opening read-only", "error", err.Error())
			db.readOnly = true
		case err != nil:
			return nil, err
		case !ok:
			log.Warn("data directory is in use by another process, opening read-only")
			db.readOnly = true
		}
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	workers, bg := errgroup.WithContext(bg)
	db.cancel = cancel
	db.workers = workers

	workers.Go(func() error { return table.Run(bg) })
	workers.Go(func() error { return db.purgeLoop(bg) })

	logging.WithComponent("database").Info("database opened",
		"data_dir", cfg.DataDir,
		"read_only", db.readOnly,
		"lock_table", cfg.LockTable.Enabled)
	return db, nil
}

func (db *Database) purgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(db.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			db.PurgeLocks()
		}
	}
}

// PurgeLocks drops registry entries of locks that have been collected and
// returns how many were dropped.
func (db *Database) PurgeLocks() int {
	n := db.collections.Purge() + db.resources.Purge()
	if n > 0 {
		logging.WithComponent("database").Debug("purged idle locks", "count", n)
	}
	return n
}

// ReadOnly reports whether the instance failed to take the lock file.
func (db *Database) ReadOnly() bool { return db.readOnly }

func (db *Database) Config() config.Config { return db.cfg }

// CollectionLock returns the lock of a collection path.
func (db *Database) CollectionLock(path string) *lock.ReentrantLock {
	return db.collections.Get(path)
}

// ResourceLock returns the lock of a document.
func (db *Database) ResourceLock(docID string) *lock.MultiReadLock {
	return db.resources.Get(docID)
}

func (db *Database) LockTable() *locktable.LockTable { return db.table }

func (db *Database) Detector() *lock.DeadlockDetection { return db.detector }

func (db *Database) FileLock() *filelock.FileLock { return db.fileLock }

// WithCollection runs fn while owner holds the collection lock of path in mode.
func (db *Database) WithCollection(ctx context.Context, owner primitives.OwnerID, path string, mode lock.Mode, fn func() error) error {
	return db.guard(ctx, db.CollectionLock(path), owner, mode, fn)
}

// WithResource runs fn while owner holds the lock of docID in mode.
func (db *Database) WithResource(ctx context.Context, owner primitives.OwnerID, docID string, mode lock.Mode, fn func() error) error {
	return db.guard(ctx, db.ResourceLock(docID), owner, mode, fn)
}

func (db *Database) guard(ctx context.Context, l lock.Lock, owner primitives.OwnerID, mode lock.Mode, fn func() error) error {
	if mode == lock.WriteLock && db.readOnly {
		return dberror.New(dberror.ErrCategoryUser, dberror.CodeDatabaseReadOnly,
			fmt.Sprintf("cannot write-lock %s: database is read-only", l.ID()))
	}

	if err := l.Acquire(ctx, owner, mode); err != nil {
		db.recordFailure(err)
		return err
	}
	defer l.Release(owner, mode)

	db.stats.mutex.Lock()
	db.stats.Operations++
	db.stats.mutex.Unlock()
	return fn()
}

func (db *Database) recordFailure(err error) {
	db.stats.mutex.Lock()
	defer db.stats.mutex.Unlock()
	db.stats.LockFailures++
	if errors.Is(err, dberror.ErrDeadlock) {
		db.stats.Deadlocks++
	}
}

// GetStatistics returns the instance counters.
func (db *Database) GetStatistics() DatabaseInfo {
	db.stats.mutex.RLock()
	defer db.stats.mutex.RUnlock()

	return DatabaseInfo{
		DataDir:         db.cfg.DataDir,
		ReadOnly:        db.readOnly,
		CollectionLocks: db.collections.Len(),
		ResourceLocks:   db.resources.Len(),
		Operations:      db.stats.Operations,
		LockFailures:    db.stats.LockFailures,
		Deadlocks:       db.stats.Deadlocks,
	}
}

// Locks returns a snapshot of every live lock, collections first, each
// group ordered by id.
func (db *Database) Locks() []lock.LockInfo {
	var cols, docs []lock.LockInfo
	db.collections.Range(func(_ string, l *lock.ReentrantLock) bool {
		cols = append(cols, l.Info())
		return true
	})
	db.resources.Range(func(_ string, l *lock.MultiReadLock) bool {
		docs = append(docs, l.Info())
		return true
	})

	byID := func(a, b lock.LockInfo) int { return strings.Compare(a.ID, b.ID) }
	slices.SortFunc(cols, byID)
	slices.SortFunc(docs, byID)
	return append(cols, docs...)
}

// Dump writes held and awaited locks followed by the wait registry.
func (db *Database) Dump(w io.Writer) error {
	for _, info := range db.Locks() {
		if info.Mode == lock.NoLock && len(info.WaitingForRead) == 0 && len(info.WaitingForWrite) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %s %s owners=[%s] waiting_read=[%s] waiting_write=[%s]\n",
			info.Type, info.ID, info.Mode,
			strings.Join(info.Owners, ", "),
			strings.Join(info.WaitingForRead, ", "),
			strings.Join(info.WaitingForWrite, ", ")); err != nil {
			return err
		}
	}
	return db.detector.Dump(w)
}

// Close stops background work, drains the lock table and releases the lock
// file. It is safe to call more than once.
func (db *Database) Close() error {
	db.closeOnce.Do(func() {
		db.table.Close()
		// Let the consumer drain before it is cancelled.
		if err := db.table.Sync(context.Background()); err != nil {
			logging.WithComponent("database").Debug("lock table stopped before sync", "error", err)
		}
		db.cancel()
		if err := db.workers.Wait(); err != nil {
			db.closeErr = err
		}
		if !db.readOnly {
			db.closeErr = errors.Join(db.closeErr, db.fileLock.Release())
		}
		logging.WithComponent("database").Info("database closed", "data_dir", db.cfg.DataDir)
	})
	return db.closeErr
}
