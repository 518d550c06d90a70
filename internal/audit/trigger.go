package audit

import (
	"fmt"
	"time"

	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

// quarterMarker is the idempotency record under quarter:auto:<YYYYQn>.
type quarterMarker struct {
	Done bool  `json:"done"`
	At   int64 `json:"at"`
}

// Trigger enqueues the quarterly visiting-scope audit at quarter-start
// instants, at most once per quarter.
type Trigger struct {
	store *store.Store
	log   *logger.Logger
	now   func() time.Time
}

// NewTrigger creates a trigger over a loaded store.
func NewTrigger(st *store.Store, log *logger.Logger) *Trigger {
	return &Trigger{
		store: st,
		log:   log.WithModule("quarterly"),
		now:   time.Now,
	}
}

// Maybe inspects the current UTC instant and enqueues a visiting job over
// the watchlist when a quarter starts. The quarter:auto marker keeps the
// enqueue at-most-once across the ticks that observe the same instant.
// Returns whether a job was enqueued.
func (t *Trigger) Maybe() (bool, error) {
	now := t.now().UTC()
	if !quarterStart(now) {
		return false, nil
	}

	label := previousQuarter(now)
	markerKey := store.QuarterAutoKey(label)
	if t.store.Has(markerKey) {
		return false, nil
	}

	var watchlist []string
	if _, err := t.store.Get(store.KeyWatchlist, &watchlist); err != nil {
		return false, err
	}

	var active Job
	if ok, _ := t.store.Get(store.KeyAuditJob, &active); ok && !active.Done() {
		t.log.WithField("replaced", active.ID).Warn("Quarterly sweep replacing active job")
	}

	job := NewJob(ScopeVisiting, watchlist, now)
	if err := t.store.Set(store.KeyAuditJob, job); err != nil {
		return false, err
	}
	t.store.Delete(store.AuditPartialKey(ScopeVisiting))
	if err := t.store.Set(markerKey, quarterMarker{Done: true, At: now.Unix()}); err != nil {
		return false, err
	}

	t.log.WithFields(map[string]any{
		"quarter": label,
		"cids":    job.Total,
	}).Info("Quarterly audit enqueued")
	return true, nil
}

// quarterStart reports whether t falls in the first hour of a quarter.
func quarterStart(t time.Time) bool {
	switch t.Month() {
	case time.January, time.April, time.July, time.October:
		return t.Day() == 1 && t.Hour() == 0
	}
	return false
}

// previousQuarter labels the quarter that just ended at a quarter-start
// instant, e.g. 2025-04-01 -> "2025Q1", 2026-01-01 -> "2025Q4".
func previousQuarter(t time.Time) string {
	switch t.Month() {
	case time.January:
		return fmt.Sprintf("%dQ4", t.Year()-1)
	case time.April:
		return fmt.Sprintf("%dQ1", t.Year())
	case time.July:
		return fmt.Sprintf("%dQ2", t.Year())
	default: // October
		return fmt.Sprintf("%dQ3", t.Year())
	}
}
