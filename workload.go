package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/database"
	dberror "xmlstore/pkg/error"
	"xmlstore/pkg/primitives"
)

var (
	demoCollections = []string{"/db", "/db/apps", "/db/system"}
	demoDocuments   = []string{"doc1", "doc2", "doc3", "doc4", "doc5"}
)

type workloadReport struct {
	Operations      int64
	Failures        int64
	Deadlocks       int64
	ReadOnlySkipped int64
}

// runWorkload has owners take collection and document locks in both
// orders, so the takeover and deadlock paths get exercised.
func runWorkload(ctx context.Context, db *database.Database, owners int, d time.Duration) workloadReport {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var report workloadReport
	var wg sync.WaitGroup
	for range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := primitives.NewOwnerID()
			for ctx.Err() == nil {
				err := step(ctx, db, owner)
				switch {
				case err == nil:
					atomic.AddInt64(&report.Operations, 1)
				case errors.Is(err, dberror.ErrDatabaseReadOnly):
					atomic.AddInt64(&report.ReadOnlySkipped, 1)
				case errors.Is(err, dberror.ErrDeadlock):
					atomic.AddInt64(&report.Deadlocks, 1)
					atomic.AddInt64(&report.Failures, 1)
				case ctx.Err() != nil:
				default:
					atomic.AddInt64(&report.Failures, 1)
				}
			}
		}()
	}
	wg.Wait()
	return report
}

func step(ctx context.Context, db *database.Database, owner primitives.OwnerID) error {
	col := demoCollections[rand.IntN(len(demoCollections))]
	doc := demoDocuments[rand.IntN(len(demoDocuments))]
	mode := lock.ReadLock
	if rand.IntN(3) == 0 {
		mode = lock.WriteLock
	}
	work := func() error {
		time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
		return nil
	}

	if rand.IntN(2) == 0 {
		return db.WithCollection(ctx, owner, col, mode, func() error {
			return db.WithResource(ctx, owner, doc, mode, work)
		})
	}
	return db.WithResource(ctx, owner, doc, mode, func() error {
		return db.WithCollection(ctx, owner, col, mode, func() error {
			// A second document inside the same collection.
			other := demoDocuments[rand.IntN(len(demoDocuments))]
			if other == doc {
				return work()
			}
			if err := db.WithResource(ctx, owner, other, lock.ReadLock, work); err != nil {
				return fmt.Errorf("nested read of %s: %w", other, err)
			}
			return nil
		})
	})
}
