package lock

import (
	"context"
	"sync"
	"testing"
	"time"
	"xmlstore/pkg/primitives"
)

const testPoll = 10 * time.Millisecond

// recordingSink keeps every event for inspection.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Record(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Action
	}
	return out
}

func testOptions() Options {
	return Options{
		Detector:   NewDeadlockDetection(),
		PollPeriod: testPoll,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func owners(n int) []primitives.OwnerID {
	out := make([]primitives.OwnerID, n)
	for i := range out {
		out[i] = primitives.NewOwnerID()
	}
	return out
}

// acquireAsync runs Acquire on its own goroutine and delivers the result.
func acquireAsync(ctx context.Context, l Lock, owner primitives.OwnerID, mode Mode) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx, owner, mode)
	}()
	return done
}

// requireBlocked fails if done delivers within a few poll periods.
func requireBlocked(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("lock request returned early: %v", err)
	case <-time.After(5 * testPoll):
	}
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("lock request did not complete")
		return nil
	}
}
