package audit

import (
	"io"
	"testing"
	"time"

	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

func newTrigger(st *store.Store, now time.Time) *Trigger {
	tr := NewTrigger(st, logger.NewWithWriter("error", io.Discard))
	tr.now = func() time.Time { return now }
	return tr
}

func TestQuarterlyEnqueuesOnce(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	if err := st.Set(store.KeyWatchlist, []string{"1000001", "1000002"}); err != nil {
		t.Fatal(err)
	}

	instant := time.Date(2026, 4, 1, 0, 10, 0, 0, time.UTC)
	tr := newTrigger(st, instant)

	enqueued, err := tr.Maybe()
	if err != nil {
		t.Fatalf("Maybe(): %v", err)
	}
	if !enqueued {
		t.Fatal("first tick at quarter start did not enqueue")
	}

	var job Job
	if ok, _ := st.Get(store.KeyAuditJob, &job); !ok {
		t.Fatal("no job staged")
	}
	if job.Scope != ScopeVisiting || job.Total != 2 {
		t.Errorf("job = %+v, want visiting over 2 CIDs", job)
	}
	if !st.Has(store.QuarterAutoKey("2026Q1")) {
		t.Error("quarter marker not set")
	}

	// Later ticks within the same hour observe the marker and stay quiet.
	tr.now = func() time.Time { return instant.Add(40 * time.Minute) }
	enqueued, err = tr.Maybe()
	if err != nil {
		t.Fatalf("second Maybe(): %v", err)
	}
	if enqueued {
		t.Error("quarterly job enqueued twice")
	}
	var again Job
	if ok, _ := st.Get(store.KeyAuditJob, &again); !ok || again.ID != job.ID {
		t.Error("active job replaced by repeat tick")
	}
}

func TestQuarterlyIgnoresOrdinaryInstants(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	for _, instant := range []time.Time{
		time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC),  // right hour band passed
		time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),  // wrong day
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),  // wrong month
		time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), // wrong month
	} {
		tr := newTrigger(st, instant)
		enqueued, err := tr.Maybe()
		if err != nil {
			t.Fatalf("Maybe(%v): %v", instant, err)
		}
		if enqueued {
			t.Errorf("enqueued at non-quarter instant %v", instant)
		}
	}
}

func TestPreviousQuarterLabels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2025Q4"},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "2026Q1"},
		{time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), "2026Q2"},
		{time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "2026Q3"},
	}
	for _, tc := range cases {
		if got := previousQuarter(tc.at); got != tc.want {
			t.Errorf("previousQuarter(%v) = %q, want %q", tc.at, got, tc.want)
		}
	}
}
