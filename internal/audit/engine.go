package audit

import (
	"context"
	"errors"
	"time"

	"github.com/RealLeviticus/vatpaccurrency/internal/budget"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
	"github.com/RealLeviticus/vatpaccurrency/internal/vatsim"
)

// CooldownFlag debounces repeat low-hours alerts per controller.
const CooldownFlag = 24 * time.Hour

// Per-CID cost estimate used before starting a slice: one member lookup
// plus one session fetch.
const callsPerCID = 2

// DataPlane is the slice of the VATSIM client the engine consumes.
type DataPlane interface {
	GetMember(ctx context.Context, bud *budget.Budget, cid string) (*vatsim.Member, error)
	GetATCSessions(ctx context.Context, bud *budget.Budget, cid string, since time.Time) (*vatsim.SessionSummary, error)
}

// Engine advances the active job one block at a time within the tick
// budget. All state goes through the store; the caller owns the flush.
type Engine struct {
	store   *store.Store
	client  DataPlane
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an engine over a loaded store.
func NewEngine(st *store.Store, client DataPlane, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		store:   st,
		client:  client,
		log:     log.WithModule("audit"),
		metrics: m,
		now:     time.Now,
	}
}

// cachedMember is the member record persisted under member:<cid>.
type cachedMember struct {
	Name     string `json:"name"`
	Rating   int    `json:"rating"`
	Division string `json:"division,omitempty"`
}

// cachedExistence is persisted under membermeta:<cid>.
type cachedExistence struct {
	Exists bool `json:"exists"`
}

// cachedRating is persisted under rating:<cid> for API enrichment.
type cachedRating struct {
	Rating int    `json:"rating"`
	Label  string `json:"label"`
}

type cachedDivision struct {
	Division string `json:"division"`
}

type cooldownMarker struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// Tick advances the active job. Budget or deadline exhaustion stops the
// sweep gracefully; the next tick resumes from the persisted cursor.
func (e *Engine) Tick(ctx context.Context, bud *budget.Budget) error {
	var job Job
	ok, err := e.store.Get(store.KeyAuditJob, &job)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if job.Done() {
		e.clearJob(&job)
		return nil
	}

	params, known := Params(job.Scope)
	if !known {
		e.log.WithField("scope", job.Scope).Error("Active job has unknown scope, clearing")
		e.store.Delete(store.KeyAuditJob)
		return nil
	}

	results := []Result{}
	partialKey := store.AuditPartialKey(job.Scope)
	if _, err := e.store.Get(partialKey, &results); err != nil {
		return err
	}

	throttle := newProgressThrottle(e.now)
	stopped := false

	for blocks := 0; !job.Done() && blocks < BlockSize && !stopped; blocks++ {
		if bud.Expired() {
			break
		}
		end := job.Cursor + SliceSize
		if end > job.Total {
			end = job.Total
		}
		slice := job.CIDs[job.Cursor:end]
		if !bud.CanAfford(callsPerCID * len(slice)) {
			break
		}

		for i, cid := range slice {
			result, err := e.auditCID(ctx, bud, job.Scope, params, cid)
			if err != nil {
				if errors.Is(err, domerrors.ErrBudgetExhausted) {
					// Partial slice: the cursor covers only what finished.
					job.Cursor += i
					stopped = true
					break
				}
				// Transient per-CID failure: advance past it with an
				// incomplete marker; the next quarterly sweep re-evaluates.
				e.log.WithError(err).WithField("cid", cid).Warn("Audit fetch failed, marking incomplete")
				result = Result{CID: cid, Incomplete: true, ComputedAt: e.now().Unix()}
			}

			results = upsertResult(results, result)
			if err := e.store.CachePut(store.AuditArchiveKey(job.Scope, cid), result); err != nil {
				return err
			}
			e.metrics.RecordVerdict(job.Scope, verdictLabel(result))
			if result.Flagged {
				e.flagAlert(cid, result.Hours, params.HoursRequired)
			}
		}
		if !stopped {
			job.Cursor = end
		}

		if throttle.allow() {
			e.log.WithFields(map[string]any{
				"scope":    job.Scope,
				"cursor":   job.Cursor,
				"total":    job.Total,
				"progress": job.Progress(),
			}).Info("Audit progress")
			e.metrics.RecordCursor(job.Scope, job.Cursor)
		}
	}

	if err := e.store.Set(partialKey, results); err != nil {
		return err
	}
	if job.Done() {
		e.clearJob(&job)
	} else {
		if err := e.store.Set(store.KeyAuditJob, &job); err != nil {
			return err
		}
		e.metrics.RecordCursor(job.Scope, job.Cursor)
	}
	return nil
}

func (e *Engine) clearJob(job *Job) {
	e.log.WithFields(map[string]any{
		"scope": job.Scope,
		"total": job.Total,
	}).Info("Audit job complete")
	e.store.Delete(store.KeyAuditJob)
	e.metrics.RecordCursor(job.Scope, job.Total)
}

// auditCID computes one controller's verdict.
func (e *Engine) auditCID(ctx context.Context, bud *budget.Budget, scope string, params ScopeParams, cid string) (Result, error) {
	now := e.now()

	member, missing, err := e.member(ctx, bud, cid)
	if err != nil {
		return Result{}, err
	}
	if missing {
		// Unknown members stay in the job but are never flagged.
		return Result{CID: cid, Missing: true, ComputedAt: now.Unix()}, nil
	}

	if member.Rating == vatsim.RatingS1 && e.withinS1Grace(cid, now) {
		return Result{CID: cid, Exempt: true, ComputedAt: now.Unix()}, nil
	}

	since := now.AddDate(0, -params.LookbackMonths, 0)
	summary, err := e.client.GetATCSessions(ctx, bud, cid, since)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		CID:        cid,
		Hours:      summary.Hours,
		Flagged:    summary.Hours < params.HoursRequired,
		ComputedAt: now.Unix(),
	}
	if !summary.LastSession.IsZero() {
		result.LastSession = summary.LastSession.UTC().Format(time.RFC3339)
	}
	return result, nil
}

// member resolves a CID's member record through the store caches, hitting
// the network only on a miss. The bool return marks non-existent members.
func (e *Engine) member(ctx context.Context, bud *budget.Budget, cid string) (*vatsim.Member, bool, error) {
	var cached cachedMember
	if e.store.CacheGet(store.MemberKey(cid), store.TTLMember, &cached) {
		return &vatsim.Member{CID: cid, NameFirst: cached.Name, Rating: cached.Rating, DivisionID: cached.Division}, false, nil
	}

	var existence cachedExistence
	if e.store.CacheGet(store.MemberMetaKey(cid), store.TTLMember, &existence) && !existence.Exists {
		return nil, true, nil
	}

	member, err := e.client.GetMember(ctx, bud, cid)
	if err != nil {
		if errors.Is(err, domerrors.ErrNotFound) {
			_ = e.store.CachePut(store.MemberMetaKey(cid), cachedExistence{Exists: false})
			return nil, true, nil
		}
		return nil, false, err
	}

	_ = e.store.CachePut(store.MemberMetaKey(cid), cachedExistence{Exists: true})
	_ = e.store.CachePut(store.MemberKey(cid), cachedMember{
		Name:     member.FullName(),
		Rating:   member.Rating,
		Division: member.DivisionID,
	})
	_ = e.store.CachePut(store.RatingKey(cid), cachedRating{
		Rating: member.Rating,
		Label:  vatsim.RatingLabel(member.Rating),
	})
	if member.DivisionID != "" {
		_ = e.store.CachePut(store.PrefixDivision+cid, cachedDivision{Division: member.DivisionID})
	}
	return member, false, nil
}

// withinS1Grace checks the roster insertion time against the S1 grace
// period. A CID with no recorded insertion counts as newly appeared.
func (e *Engine) withinS1Grace(cid string, now time.Time) bool {
	added := map[string]int64{}
	if _, err := e.store.Get(store.KeyWatchlistMeta, &added); err != nil {
		return false
	}
	first, ok := added[cid]
	if !ok {
		return true
	}
	return now.Unix()-first < int64(S1ExemptDays)*24*3600
}

// flagAlert emits a low-hours event, debounced per controller.
func (e *Engine) flagAlert(cid string, hours, required float64) {
	key := store.CooldownFlagKey(cid)
	now := e.now().Unix()

	var marker cooldownMarker
	if ok, _ := e.store.Get(key, &marker); ok && marker.ExpiresAt > now {
		return
	}
	e.log.WithFields(map[string]any{
		"cid":      cid,
		"hours":    hours,
		"required": required,
	}).Warn("Controller below required hours")
	_ = e.store.Set(key, cooldownMarker{ExpiresAt: now + int64(CooldownFlag.Seconds())})
}

func verdictLabel(r Result) string {
	switch {
	case r.Incomplete:
		return "incomplete"
	case r.Missing:
		return "missing"
	case r.Exempt:
		return "exempt"
	case r.Flagged:
		return "flagged"
	default:
		return "ok"
	}
}
