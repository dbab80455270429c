package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(limit int) (*RateWindow, *time.Time) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewRateWindow(limit)
	w.now = func() time.Time { return now }
	// advance fake time instead of sleeping
	w.sleep = func(d time.Duration) { now = now.Add(d) }
	return w, &now
}

func TestRateWindowNeverExceedsLimit(t *testing.T) {
	w, _ := newTestWindow(5)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, w.Acquire(ctx))
		assert.LessOrEqual(t, w.Active(), 5)
	}
}

func TestRateWindowPrunesOldStamps(t *testing.T) {
	w, now := newTestWindow(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Acquire(ctx))
	}
	assert.Equal(t, 3, w.Active())

	*now = now.Add(61 * time.Second)
	assert.Equal(t, 0, w.Active())
}

func TestRateWindowAcquireRespectsContext(t *testing.T) {
	w, _ := newTestWindow(1)
	require.NoError(t, w.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// window is full and time is frozen for this call
	w.sleep = func(time.Duration) {}
	err := w.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCostLedgerCeiling(t *testing.T) {
	l := NewCostLedger(0.10)
	assert.False(t, l.Exceeded())

	l.Add(0.04)
	l.Add(0.04)
	assert.False(t, l.Exceeded())

	l.Add(0.04)
	assert.True(t, l.Exceeded())

	spent, calls := l.Snapshot()
	assert.InDelta(t, 0.12, spent, 1e-9)
	assert.Equal(t, 3, calls)
}

func TestCostLedgerUnlimited(t *testing.T) {
	l := NewCostLedger(0)
	l.Add(1000)
	assert.False(t, l.Exceeded())
}
