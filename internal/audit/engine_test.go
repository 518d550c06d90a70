package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RealLeviticus/vatpaccurrency/internal/budget"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
	"github.com/RealLeviticus/vatpaccurrency/internal/store/storetest"
	"github.com/RealLeviticus/vatpaccurrency/internal/vatsim"
)

// fakeDataPlane serves scripted members and session hours, consuming one
// budget sub-request per call like the real client.
type fakeDataPlane struct {
	members      map[string]*vatsim.Member
	hours        map[string]float64
	lastSessions map[string]time.Time
	errs         map[string]error

	memberCalls  int
	sessionCalls int
}

func (f *fakeDataPlane) acquire(bud *budget.Budget) error {
	if bud == nil {
		return nil
	}
	return bud.Acquire(0)
}

func (f *fakeDataPlane) GetMember(_ context.Context, bud *budget.Budget, cid string) (*vatsim.Member, error) {
	if err := f.acquire(bud); err != nil {
		return nil, err
	}
	f.memberCalls++
	if err := f.errs[cid]; err != nil {
		return nil, err
	}
	m, ok := f.members[cid]
	if !ok {
		return nil, domerrors.ErrNotFound
	}
	return m, nil
}

func (f *fakeDataPlane) GetATCSessions(_ context.Context, bud *budget.Budget, cid string, _ time.Time) (*vatsim.SessionSummary, error) {
	if err := f.acquire(bud); err != nil {
		return nil, err
	}
	f.sessionCalls++
	if err := f.errs[cid]; err != nil {
		return nil, err
	}
	return &vatsim.SessionSummary{
		Hours:       f.hours[cid],
		LastSession: f.lastSessions[cid],
	}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(&storetest.InMemory{}, logger.NewWithWriter("error", io.Discard))
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load(): %v", err)
	}
	return st
}

func newEngine(st *store.Store, plane DataPlane, now time.Time) *Engine {
	e := NewEngine(st, plane, metrics.New(prometheus.NewRegistry()), logger.NewWithWriter("error", io.Discard))
	e.now = func() time.Time { return now }
	return e
}

func seedJob(t *testing.T, st *store.Store, scope string, cids []string, now time.Time) *Job {
	t.Helper()
	job, err := Start(st, scope, cids, now)
	if err != nil {
		t.Fatalf("Start(): %v", err)
	}
	return job
}

func ratedMember(cid string, rating int) *vatsim.Member {
	return &vatsim.Member{CID: cid, NameFirst: "Test", NameLast: cid, Rating: rating}
}

func TestTickWithoutJobIsNoop(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	e := newEngine(st, &fakeDataPlane{}, time.Now())

	if err := e.Tick(context.Background(), budget.New(120, time.Minute)); err != nil {
		t.Fatalf("Tick(): %v", err)
	}
	if st.Dirty() {
		t.Error("tick with no job staged edits")
	}
}

func TestTickAdvancesAtMostOneBlock(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	plane := &fakeDataPlane{
		members: map[string]*vatsim.Member{},
		hours:   map[string]float64{},
	}
	cids := make([]string, 50)
	for i := range cids {
		cid := fmt.Sprintf("%d", 1000000+i)
		cids[i] = cid
		plane.members[cid] = ratedMember(cid, vatsim.RatingS3)
		plane.hours[cid] = 20
	}

	seedJob(t, st, ScopeVisiting, cids, now)
	e := newEngine(st, plane, now)

	if err := e.Tick(context.Background(), budget.New(120, time.Minute)); err != nil {
		t.Fatalf("first Tick(): %v", err)
	}

	var job Job
	if ok, _ := st.Get(store.KeyAuditJob, &job); !ok {
		t.Fatal("job cleared after first tick")
	}
	if job.Cursor != SliceSize*BlockSize {
		t.Errorf("cursor after first tick = %d, want %d", job.Cursor, SliceSize*BlockSize)
	}

	if err := e.Tick(context.Background(), budget.New(120, time.Minute)); err != nil {
		t.Fatalf("second Tick(): %v", err)
	}
	if st.Has(store.KeyAuditJob) {
		t.Error("job not cleared after full sweep")
	}

	var results []Result
	if ok, _ := st.Get(store.AuditPartialKey(ScopeVisiting), &results); !ok {
		t.Fatal("partial results missing")
	}
	if len(results) != 50 {
		t.Errorf("results = %d entries, want 50", len(results))
	}
	for _, r := range results {
		if r.Flagged {
			t.Errorf("cid %s flagged with 20h against a 10h requirement", r.CID)
		}
	}
}

func TestTickStopsOnBudget(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	plane := &fakeDataPlane{
		members: map[string]*vatsim.Member{},
		hours:   map[string]float64{},
	}
	cids := make([]string, 30)
	for i := range cids {
		cid := fmt.Sprintf("%d", 1000000+i)
		cids[i] = cid
		plane.members[cid] = ratedMember(cid, vatsim.RatingS3)
		plane.hours[cid] = 20
	}

	seedJob(t, st, ScopeVisiting, cids, now)
	e := newEngine(st, plane, now)

	// Room for one slice's worst-case estimate but not two.
	if err := e.Tick(context.Background(), budget.New(21, time.Minute)); err != nil {
		t.Fatalf("Tick(): %v", err)
	}

	var job Job
	if ok, _ := st.Get(store.KeyAuditJob, &job); !ok {
		t.Fatal("job cleared")
	}
	if job.Cursor != SliceSize {
		t.Errorf("cursor = %d, want %d (one slice)", job.Cursor, SliceSize)
	}
}

func TestVerdicts(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	lastSession := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	plane := &fakeDataPlane{
		members: map[string]*vatsim.Member{
			"1000001": ratedMember("1000001", vatsim.RatingS3),
			"1000002": ratedMember("1000002", vatsim.RatingS3),
			"1000004": ratedMember("1000004", vatsim.RatingS1),
			"1000005": ratedMember("1000005", vatsim.RatingS3),
		},
		hours:        map[string]float64{"1000001": 5, "1000002": 12},
		lastSessions: map[string]time.Time{"1000002": lastSession},
		errs:         map[string]error{"1000005": errors.New("upstream 503")},
	}

	// 1000004 joined the roster recently, inside the S1 grace period.
	if err := st.Set(store.KeyWatchlistMeta, map[string]int64{
		"1000004": now.AddDate(0, 0, -30).Unix(),
	}); err != nil {
		t.Fatal(err)
	}

	cids := []string{"1000001", "1000002", "1000003", "1000004", "1000005"}
	seedJob(t, st, ScopeVisiting, cids, now)
	e := newEngine(st, plane, now)

	if err := e.Tick(context.Background(), budget.New(120, time.Minute)); err != nil {
		t.Fatalf("Tick(): %v", err)
	}
	if st.Has(store.KeyAuditJob) {
		t.Fatal("five-CID job should complete in one tick")
	}

	var results []Result
	if ok, _ := st.Get(store.AuditPartialKey(ScopeVisiting), &results); !ok {
		t.Fatal("partial results missing")
	}
	byCID := map[string]Result{}
	for _, r := range results {
		byCID[r.CID] = r
	}

	if r := byCID["1000001"]; !r.Flagged || r.Hours != 5 {
		t.Errorf("low-hours verdict = %+v, want flagged with 5h", r)
	}
	if r := byCID["1000002"]; r.Flagged || r.Hours != 12 {
		t.Errorf("sufficient-hours verdict = %+v, want unflagged with 12h", r)
	}
	if byCID["1000002"].LastSession != "2026-08-01T12:00:00Z" {
		t.Errorf("LastSession = %q", byCID["1000002"].LastSession)
	}
	if r := byCID["1000003"]; !r.Missing || r.Flagged {
		t.Errorf("unknown-member verdict = %+v, want missing and unflagged", r)
	}
	if r := byCID["1000004"]; !r.Exempt || r.Flagged || r.Hours != 0 {
		t.Errorf("S1-grace verdict = %+v, want exempt", r)
	}
	if r := byCID["1000005"]; !r.Incomplete || r.Flagged {
		t.Errorf("fetch-failure verdict = %+v, want incomplete and unflagged", r)
	}

	// Flag alert cooldown armed only for the flagged controller.
	if !st.Has(store.CooldownFlagKey("1000001")) {
		t.Error("flag cooldown not set for flagged controller")
	}
	if st.Has(store.CooldownFlagKey("1000002")) {
		t.Error("flag cooldown set for unflagged controller")
	}
}

func TestMemberCacheAvoidsRefetch(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	plane := &fakeDataPlane{
		members: map[string]*vatsim.Member{"1000001": ratedMember("1000001", vatsim.RatingS3)},
		hours:   map[string]float64{"1000001": 20},
	}

	seedJob(t, st, ScopeVisiting, []string{"1000001"}, now)
	e := newEngine(st, plane, now)
	if err := e.Tick(context.Background(), budget.New(120, time.Minute)); err != nil {
		t.Fatalf("first Tick(): %v", err)
	}
	if plane.memberCalls != 1 {
		t.Fatalf("memberCalls = %d, want 1", plane.memberCalls)
	}

	// A later sweep over the same CID reuses the cached member record.
	later := now.Add(time.Hour)
	e.now = func() time.Time { return later }
	seedJob(t, st, ScopeVisiting, []string{"1000001"}, later)
	if err := e.Tick(context.Background(), budget.New(120, time.Minute)); err != nil {
		t.Fatalf("second Tick(): %v", err)
	}
	if plane.memberCalls != 1 {
		t.Errorf("memberCalls after cached sweep = %d, want 1", plane.memberCalls)
	}
	if plane.sessionCalls != 2 {
		t.Errorf("sessionCalls = %d, want 2", plane.sessionCalls)
	}
}

func TestStartRejectsActiveJob(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	now := time.Now()
	seedJob(t, st, ScopeVisiting, []string{"1000001"}, now)

	_, err := Start(st, ScopeLocal, []string{"2000002"}, now)
	if !errors.Is(err, domerrors.ErrJobActive) {
		t.Errorf("Start() with active job = %v, want ErrJobActive", err)
	}
}

func TestStartRejectsUnknownScope(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	_, err := Start(st, "regional", []string{"1000001"}, time.Now())
	if !errors.Is(err, domerrors.ErrInvalidScope) {
		t.Errorf("Start(regional) = %v, want ErrInvalidScope", err)
	}
}

func TestUpsertResultMonotonic(t *testing.T) {
	t.Parallel()

	list := []Result{{CID: "1000001", Hours: 8, ComputedAt: 200}}

	list = upsertResult(list, Result{CID: "1000001", Hours: 3, ComputedAt: 100})
	if list[0].Hours != 8 {
		t.Errorf("stale verdict overwrote newer one: %+v", list[0])
	}

	list = upsertResult(list, Result{CID: "1000001", Hours: 11, ComputedAt: 300})
	if list[0].Hours != 11 {
		t.Errorf("newer verdict not applied: %+v", list[0])
	}

	list = upsertResult(list, Result{CID: "1000002", Hours: 4, ComputedAt: 300})
	if len(list) != 2 {
		t.Errorf("new CID not appended, len = %d", len(list))
	}
}

func TestJobGeometry(t *testing.T) {
	t.Parallel()

	job := NewJob(ScopeVisiting, []string{"30", "1000", "200"}, time.Now())
	want := []string{"30", "200", "1000"}
	for i, cid := range want {
		if job.CIDs[i] != cid {
			t.Fatalf("CIDs = %v, want numeric ascending %v", job.CIDs, want)
		}
	}
	if job.Total != 3 || job.Cursor != 0 || job.ID == "" {
		t.Errorf("job = %+v", job)
	}

	job.Cursor = 2
	if job.Progress() != 66 {
		t.Errorf("Progress() = %d, want 66", job.Progress())
	}
	if job.Done() {
		t.Error("Done() = true at cursor 2 of 3")
	}
	job.Cursor = 3
	if !job.Done() {
		t.Error("Done() = false at cursor == total")
	}
}

func TestProgressThrottle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	th := newProgressThrottle(func() time.Time { return now })

	if !th.allow() {
		t.Fatal("first event blocked")
	}
	if th.allow() {
		t.Error("event allowed inside min gap")
	}

	for i := 0; i < MaxProgressEdits-1; i++ {
		now = now.Add(ProgressEditMinGap)
		if !th.allow() {
			t.Fatalf("event %d blocked outside min gap", i+2)
		}
	}

	now = now.Add(time.Minute)
	if th.allow() {
		t.Error("event allowed beyond per-tick cap")
	}
}
