package vatsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RealLeviticus/vatpaccurrency/internal/budget"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		DataURL:     srv.URL + "/v3/vatsim-data.json",
		APIURL:      srv.URL + "/v2",
		CallTimeout: 5 * time.Second,
	}, metrics.New(prometheus.NewRegistry()), logger.NewWithWriter("error", io.Discard))
}

func TestGetOnlineControllersFiltersATIS(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"controllers":[
			{"cid":1234567,"callsign":"SY_TWR","frequency":"120.500","name":"Jane Doe"},
			{"cid":7654321,"callsign":"SY_ATIS","frequency":"126.250","name":"ATIS"},
			{"cid":1111111,"callsign":"ML_APP","name":"Sam Roe"}
		]}`)
	})

	controllers, err := c.GetOnlineControllers(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetOnlineControllers(): %v", err)
	}
	if len(controllers) != 2 {
		t.Fatalf("got %d controllers, want 2 (ATIS filtered)", len(controllers))
	}
	if controllers[0].CID != "1234567" || controllers[0].Callsign != "SY_TWR" {
		t.Errorf("first controller = %+v", controllers[0])
	}
	if controllers[1].CID != "1111111" {
		t.Errorf("second controller CID = %q, want 1111111", controllers[1].CID)
	}
}

func TestMemberExists(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/members/1234567" {
			_, _ = fmt.Fprint(w, `{"id":1234567,"name_first":"Jane","name_last":"Doe","rating":4}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	exists, err := c.MemberExists(context.Background(), nil, "1234567")
	if err != nil {
		t.Fatalf("MemberExists(known): %v", err)
	}
	if !exists {
		t.Error("MemberExists(known) = false, want true")
	}

	exists, err = c.MemberExists(context.Background(), nil, "9999999")
	if err != nil {
		t.Fatalf("MemberExists(unknown): %v", err)
	}
	if exists {
		t.Error("MemberExists(unknown) = true, want false")
	}
}

func TestGetMember(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":1234567,"name_first":"Jane","name_last":"Doe","rating":2,"division_id":"PAC"}`)
	})

	m, err := c.GetMember(context.Background(), nil, "1234567")
	if err != nil {
		t.Fatalf("GetMember(): %v", err)
	}
	if m.FullName() != "Jane Doe" {
		t.Errorf("FullName() = %q, want Jane Doe", m.FullName())
	}
	if m.Rating != RatingS1 {
		t.Errorf("Rating = %d, want S1 (%d)", m.Rating, RatingS1)
	}
	if got := RatingLabel(m.Rating); got != "S1" {
		t.Errorf("RatingLabel = %q, want S1", got)
	}
}

func TestGetMemberNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetMember(context.Background(), nil, "9999999")
	if !errors.Is(err, domerrors.ErrNotFound) {
		t.Errorf("GetMember(unknown) = %v, want ErrNotFound", err)
	}
}

func TestGetATCSessionsSumsHours(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("start"); got != "2025-05-01" {
			t.Errorf("start = %q, want 2025-05-01", got)
		}
		_, _ = fmt.Fprint(w, `{"items":[
			{"callsign":"SY_TWR","start":"2025-05-10T09:00:00","end":"2025-05-10T10:30:00","minutes_on_callsign":"90.00"},
			{"callsign":"SY_APP","start":"2025-06-01T09:00:00","end":"2025-06-01T10:00:00","minutes_on_callsign":"60.00"},
			{"callsign":"SY_GND","start":"2025-06-02T09:00:00","end":"2025-06-02T09:30:00","minutes_on_callsign":"bogus"}
		],"count":3}`)
	})

	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	summary, err := c.GetATCSessions(context.Background(), nil, "1234567", since)
	if err != nil {
		t.Fatalf("GetATCSessions(): %v", err)
	}
	if summary.Hours != 2.5 {
		t.Errorf("Hours = %v, want 2.5", summary.Hours)
	}
	if summary.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2 (bogus entry skipped)", summary.Sessions)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !summary.LastSession.Equal(want) {
		t.Errorf("LastSession = %v, want %v", summary.LastSession, want)
	}
}

func TestBudgetRefusal(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = fmt.Fprint(w, `{"controllers":[]}`)
	})

	bud := budget.New(0, time.Minute)
	_, err := c.GetOnlineControllers(context.Background(), bud)
	if !errors.Is(err, domerrors.ErrBudgetExhausted) {
		t.Errorf("exhausted budget: err = %v, want ErrBudgetExhausted", err)
	}
	if calls != 0 {
		t.Errorf("refused call still reached the server (%d calls)", calls)
	}
}

func TestBudgetConsumption(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"controllers":[]}`)
	})

	bud := budget.New(5, time.Minute)
	if _, err := c.GetOnlineControllers(context.Background(), bud); err != nil {
		t.Fatalf("GetOnlineControllers(): %v", err)
	}
	if got := bud.Subrequests(); got != 1 {
		t.Errorf("Subrequests() = %d, want 1", got)
	}
}

func TestRatingLabelUnknown(t *testing.T) {
	t.Parallel()

	if got := RatingLabel(42); got != "UNK" {
		t.Errorf("RatingLabel(42) = %q, want UNK", got)
	}
}
