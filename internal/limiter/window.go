// Package limiter owns the two pieces of cross-goroutine shared state in the
// pipeline: the sliding-window rate limiter and the per-document cost ledger.
// Both are explicit objects passed by reference, each guarded by its own lock.
package limiter

import (
	"context"
	"sync"
	"time"
)

const (
	defaultWindow = 60 * time.Second
	pollInterval  = 100 * time.Millisecond
)

// RateWindow tracks call-attempt timestamps over a trailing 60-second window.
// One instance exists per scheduler invocation, shared by its workers.
type RateWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewRateWindow creates a window allowing at most limit attempts per
// trailing 60 seconds.
func NewRateWindow(limit int) *RateWindow {
	if limit <= 0 {
		limit = 60
	}
	return &RateWindow{
		limit:  limit,
		window: defaultWindow,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Acquire blocks until the trailing window holds fewer than limit stamps,
// then records one for this attempt. Polls every 100ms; returns early with
// the context error if ctx is done.
func (w *RateWindow) Acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		w.prune(w.now())
		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, w.now())
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.sleep(pollInterval)
	}
}

// Active returns the number of stamps inside the trailing window.
func (w *RateWindow) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps)
}

// prune drops stamps older than the window. Caller holds the lock.
func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
