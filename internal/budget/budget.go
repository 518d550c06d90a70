// Package budget tracks the per-tick resource envelope: an outbound-call
// quota and a wall-clock deadline. Every outbound fetch acquires from the
// budget pre-flight; exhaustion is a graceful-stop signal for the tick,
// not an error condition.
package budget

import (
	"sync"
	"time"

	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
)

// Defaults for one scheduled tick.
const (
	DefaultSubrequests = 120
	DefaultTickWindow  = 12 * time.Second
	DefaultCallTimeout = 25 * time.Second
)

// Budget is the per-invocation resource envelope.
// It is safe for concurrent use.
type Budget struct {
	mu       sync.Mutex
	deadline time.Time
	max      int
	subreqs  int
	now      func() time.Time
}

// New creates a budget with the given sub-request quota and wall-clock window,
// anchored at the current instant.
func New(maxSubreqs int, window time.Duration) *Budget {
	return newAt(maxSubreqs, window, time.Now)
}

func newAt(maxSubreqs int, window time.Duration, now func() time.Time) *Budget {
	return &Budget{
		deadline: now().Add(window),
		max:      maxSubreqs,
		now:      now,
	}
}

// Acquire reserves one outbound call. It refuses when the quota is spent,
// the deadline has passed, or the remaining wall-clock cannot cover the
// call's own timeout. The reservation is not refunded on call failure;
// a launched call is a consumed sub-request either way.
func (b *Budget) Acquire(callTimeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subreqs >= b.max {
		return domerrors.ErrBudgetExhausted
	}
	remaining := b.deadline.Sub(b.now())
	if remaining <= 0 {
		return domerrors.ErrBudgetExhausted
	}
	if callTimeout > 0 && remaining < callTimeout {
		return domerrors.ErrBudgetExhausted
	}

	b.subreqs++
	return nil
}

// CanAfford reports whether n further calls fit in the quota. The audit
// engine uses this as a slice-cost estimate before starting a slice.
func (b *Budget) CanAfford(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subreqs+n <= b.max && b.now().Before(b.deadline)
}

// Subrequests returns the number of calls consumed so far.
func (b *Budget) Subrequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subreqs
}

// Remaining returns the wall-clock left before the tick deadline.
func (b *Budget) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.deadline.Sub(b.now())
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the tick deadline has passed.
func (b *Budget) Expired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.deadline)
}

// Deadline returns the tick deadline instant.
func (b *Budget) Deadline() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deadline
}
