// Package audit implements the currency audit: a budget-bounded,
// tick-driven sweep over a frozen CID list that computes per-controller
// hour verdicts and persists them as partial results while the job runs.
package audit

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

// Audit scopes.
const (
	ScopeVisiting = "visiting"
	ScopeLocal    = "local"
)

// Batch geometry: a slice is the per-step CID window, a block is the
// most slices one tick may process.
const (
	SliceSize = 10
	BlockSize = 4
)

// S1ExemptDays is the grace period for S1-rated controllers after their
// first appearance on the roster.
const S1ExemptDays = 90

// ScopeParams are the per-scope activity requirements.
type ScopeParams struct {
	HoursRequired  float64
	LookbackMonths int
}

var scopeParams = map[string]ScopeParams{
	ScopeVisiting: {HoursRequired: 10, LookbackMonths: 3},
	ScopeLocal:    {HoursRequired: 15, LookbackMonths: 3},
}

// Params returns the requirements for a scope, and whether it is known.
func Params(scope string) (ScopeParams, bool) {
	p, ok := scopeParams[scope]
	return p, ok
}

// Job is the single active sweep. The CID list is frozen at creation;
// the cursor is the only mutation vector.
type Job struct {
	ID        string   `json:"id"`
	Scope     string   `json:"scope"`
	CIDs      []string `json:"cids"`
	Cursor    int      `json:"cursor"`
	Total     int      `json:"total"`
	CreatedAt int64    `json:"created_at"`
}

// Done reports whether the cursor has swept the whole list.
func (j *Job) Done() bool {
	return j.Cursor >= j.Total
}

// Progress returns sweep completion as 0-100.
func (j *Job) Progress() int {
	if j.Total == 0 {
		return 100
	}
	return j.Cursor * 100 / j.Total
}

// TicksRemaining estimates full ticks left at the block rate.
func (j *Job) TicksRemaining() int {
	remaining := j.Total - j.Cursor
	if remaining <= 0 {
		return 0
	}
	perTick := SliceSize * BlockSize
	return (remaining + perTick - 1) / perTick
}

// Result is the latest verdict for one CID within a scope.
type Result struct {
	CID         string  `json:"cid"`
	Hours       float64 `json:"hours"`
	Flagged     bool    `json:"flagged"`
	LastSession string  `json:"last_session,omitempty"`
	ComputedAt  int64   `json:"computed_at"`
	Exempt      bool    `json:"exempt,omitempty"`
	Missing     bool    `json:"missing,omitempty"`
	Incomplete  bool    `json:"incomplete,omitempty"`
}

// NewJob creates a job over the given CIDs, sorted numerically ascending.
func NewJob(scope string, cids []string, now time.Time) *Job {
	sorted := append([]string(nil), cids...)
	sort.Slice(sorted, func(i, j int) bool {
		a, _ := strconv.ParseInt(sorted[i], 10, 64)
		b, _ := strconv.ParseInt(sorted[j], 10, 64)
		return a < b
	})
	return &Job{
		ID:        uuid.NewString(),
		Scope:     scope,
		CIDs:      sorted,
		Total:     len(sorted),
		CreatedAt: now.Unix(),
	}
}

// Start stages a new job unless one is already active. The scope's
// partial results are cleared so the sweep starts from a blank bucket.
func Start(st *store.Store, scope string, cids []string, now time.Time) (*Job, error) {
	if _, ok := Params(scope); !ok {
		return nil, domerrors.ErrInvalidScope
	}

	var existing Job
	if ok, _ := st.Get(store.KeyAuditJob, &existing); ok && !existing.Done() {
		return nil, domerrors.ErrJobActive
	}

	job := NewJob(scope, cids, now)
	if err := st.Set(store.KeyAuditJob, job); err != nil {
		return nil, err
	}
	st.Delete(store.AuditPartialKey(scope))
	return job, nil
}

// upsertResult replaces the entry for r.CID, keeping list order stable for
// existing CIDs. A stale verdict never overwrites a newer one.
func upsertResult(list []Result, r Result) []Result {
	for i := range list {
		if list[i].CID == r.CID {
			if r.ComputedAt >= list[i].ComputedAt {
				list[i] = r
			}
			return list
		}
	}
	return append(list, r)
}
