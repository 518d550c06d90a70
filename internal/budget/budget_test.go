package budget

import (
	"errors"
	"testing"
	"time"

	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
)

func TestAcquireQuota(t *testing.T) {
	t.Parallel()

	b := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if err := b.Acquire(0); err != nil {
			t.Fatalf("Acquire %d failed: %v", i+1, err)
		}
	}
	if err := b.Acquire(0); !errors.Is(err, domerrors.ErrBudgetExhausted) {
		t.Errorf("Acquire past quota = %v, want ErrBudgetExhausted", err)
	}
	if got := b.Subrequests(); got != 3 {
		t.Errorf("Subrequests() = %d, want 3", got)
	}
}

func TestAcquireDeadline(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	b := newAt(10, 10*time.Second, func() time.Time { return clock() })

	if err := b.Acquire(5 * time.Second); err != nil {
		t.Fatalf("Acquire within window failed: %v", err)
	}

	// A call whose own timeout does not fit in the remaining window is refused.
	if err := b.Acquire(25 * time.Second); !errors.Is(err, domerrors.ErrBudgetExhausted) {
		t.Errorf("Acquire with oversize timeout = %v, want ErrBudgetExhausted", err)
	}

	// Advance past the deadline: everything is refused.
	now = now.Add(11 * time.Second)
	if err := b.Acquire(0); !errors.Is(err, domerrors.ErrBudgetExhausted) {
		t.Errorf("Acquire past deadline = %v, want ErrBudgetExhausted", err)
	}
	if !b.Expired() {
		t.Error("Expired() = false past deadline")
	}
	if b.Remaining() != 0 {
		t.Errorf("Remaining() = %v past deadline, want 0", b.Remaining())
	}
}

func TestCanAfford(t *testing.T) {
	t.Parallel()

	b := New(10, time.Minute)
	if !b.CanAfford(10) {
		t.Error("CanAfford(10) = false on fresh budget")
	}
	for i := 0; i < 5; i++ {
		if err := b.Acquire(0); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}
	if !b.CanAfford(5) {
		t.Error("CanAfford(5) = false with 5 remaining")
	}
	if b.CanAfford(6) {
		t.Error("CanAfford(6) = true with only 5 remaining")
	}
}

func TestRemainingCountsDown(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := newAt(1, 12*time.Second, func() time.Time { return now })
	if got := b.Remaining(); got != 12*time.Second {
		t.Errorf("Remaining() = %v, want 12s", got)
	}
}
