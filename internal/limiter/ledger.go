package limiter

import "sync"

// CostLedger accumulates estimated spend and call count for one document.
// Once cumulative cost reaches the ceiling, callers must stop issuing
// inference calls for the document; crossing the ceiling is graceful early
// termination, not an error.
type CostLedger struct {
	mu      sync.Mutex
	spent   float64
	calls   int
	ceiling float64
}

// NewCostLedger creates a ledger with the given ceiling. A non-positive
// ceiling disables the limit.
func NewCostLedger(ceiling float64) *CostLedger {
	return &CostLedger{ceiling: ceiling}
}

// Add records the estimated cost of one successful call.
func (l *CostLedger) Add(cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent += cost
	l.calls++
}

// Exceeded reports whether cumulative spend has reached the ceiling.
func (l *CostLedger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceiling > 0 && l.spent >= l.ceiling
}

// Snapshot returns cumulative spend and call count.
func (l *CostLedger) Snapshot() (spent float64, calls int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent, l.calls
}

// Ceiling returns the configured ceiling (0 = unlimited).
func (l *CostLedger) Ceiling() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceiling
}
