// Package vatsim is the read-only data plane: the live data feed for
// presence, and the member API for existence checks, enrichment, and ATC
// session history. Every call is paced by a token bucket and gated on the
// tick budget when one is supplied; data-plane fetches are single-attempt
// and a transient failure just means no data this tick.
package vatsim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RealLeviticus/vatpaccurrency/internal/budget"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
	"github.com/RealLeviticus/vatpaccurrency/internal/ratelimit"
)

const (
	// Courtesy pacing against the member API.
	requestsPerMinute = 120

	dateLayout = "2006-01-02"
)

// Config holds the upstream endpoints.
type Config struct {
	DataURL     string // live data feed document
	APIURL      string // member API base, e.g. https://api.vatsim.net/v2
	CallTimeout time.Duration
}

// Client fetches from the network's public endpoints.
type Client struct {
	httpClient  *http.Client
	dataURL     string
	apiURL      string
	callTimeout time.Duration
	limiter     *ratelimit.Limiter
	group       singleflight.Group
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// New creates a data-plane client.
func New(cfg Config, m *metrics.Metrics, log *logger.Logger) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = budget.DefaultCallTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		dataURL:     cfg.DataURL,
		apiURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		callTimeout: timeout,
		limiter:     ratelimit.NewPerMinute(requestsPerMinute),
		metrics:     m,
		log:         log.WithModule("vatsim"),
	}
}

// feedResponse is the slice of the data-feed document we read.
type feedResponse struct {
	Controllers []feedController `json:"controllers"`
}

type feedController struct {
	CID       json.Number `json:"cid"`
	Callsign  string      `json:"callsign"`
	Frequency string      `json:"frequency"`
	Name      string      `json:"name"`
}

type memberResponse struct {
	ID         json.Number `json:"id"`
	NameFirst  string      `json:"name_first"`
	NameLast   string      `json:"name_last"`
	Rating     int         `json:"rating"`
	DivisionID string      `json:"division_id"`
}

type sessionsResponse struct {
	Items []sessionItem `json:"items"`
	Count int           `json:"count"`
}

type sessionItem struct {
	Callsign string `json:"callsign"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Minutes  string `json:"minutes_on_callsign"`
}

// GetOnlineControllers fetches the live feed and returns controller
// positions, excluding ATIS connections.
func (c *Client) GetOnlineControllers(ctx context.Context, bud *budget.Budget) ([]Controller, error) {
	body, err := c.fetch(ctx, bud, "datafeed", c.dataURL)
	if err != nil {
		return nil, err
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("vatsim: decode data feed: %w", err)
	}

	controllers := make([]Controller, 0, len(feed.Controllers))
	for _, fc := range feed.Controllers {
		if strings.HasSuffix(strings.ToUpper(fc.Callsign), "_ATIS") {
			continue
		}
		controllers = append(controllers, Controller{
			CID:       fc.CID.String(),
			Callsign:  fc.Callsign,
			Frequency: fc.Frequency,
			Name:      fc.Name,
		})
	}
	return controllers, nil
}

// MemberExists reports whether a CID belongs to a registered member.
// A 200 means exists, a 404 means not; anything else is an error.
// Concurrent checks for the same CID collapse into one request.
func (c *Client) MemberExists(ctx context.Context, bud *budget.Budget, cid string) (bool, error) {
	v, err, _ := c.group.Do("exists:"+cid, func() (any, error) {
		url := c.apiURL + "/members/" + cid
		status, _, err := c.fetchStatus(ctx, bud, "member", url)
		if err != nil {
			return false, err
		}
		switch status {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, domerrors.NewFetchError(url, status, fmt.Errorf("vatsim: unexpected status %d", status))
		}
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// GetMember fetches the member record for name and rating enrichment.
// Returns ErrNotFound for unknown CIDs. Concurrent lookups for the same
// CID collapse into one request.
func (c *Client) GetMember(ctx context.Context, bud *budget.Budget, cid string) (*Member, error) {
	v, err, _ := c.group.Do("member:"+cid, func() (any, error) {
		url := c.apiURL + "/members/" + cid
		status, body, err := c.fetchStatus(ctx, bud, "member", url)
		if err != nil {
			return nil, err
		}
		switch status {
		case http.StatusOK:
		case http.StatusNotFound:
			return nil, domerrors.ErrNotFound
		default:
			return nil, domerrors.NewFetchError(url, status, fmt.Errorf("vatsim: unexpected status %d", status))
		}

		var m memberResponse
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("vatsim: decode member %s: %w", cid, err)
		}
		return &Member{
			CID:        cid,
			NameFirst:  m.NameFirst,
			NameLast:   m.NameLast,
			Rating:     m.Rating,
			DivisionID: m.DivisionID,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Member), nil
}

// GetATCSessions sums a member's ATC session minutes since the given
// instant. The per-session duration comes back as a decimal-minutes
// string; unparseable entries are skipped.
func (c *Client) GetATCSessions(ctx context.Context, bud *budget.Budget, cid string, since time.Time) (*SessionSummary, error) {
	url := fmt.Sprintf("%s/members/%s/atcsessions?start=%s", c.apiURL, cid, since.UTC().Format(dateLayout))
	status, body, err := c.fetchStatus(ctx, bud, "sessions", url)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domerrors.ErrNotFound
	default:
		return nil, domerrors.NewFetchError(url, status, fmt.Errorf("vatsim: unexpected status %d", status))
	}

	var resp sessionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("vatsim: decode sessions for %s: %w", cid, err)
	}

	summary := &SessionSummary{}
	for _, item := range resp.Items {
		minutes, err := strconv.ParseFloat(item.Minutes, 64)
		if err != nil {
			c.log.WithField("cid", cid).Warn("unparseable session duration", "value", item.Minutes)
			continue
		}
		summary.Hours += minutes / 60
		summary.Sessions++
		if end := parseSessionTime(item.End); end.After(summary.LastSession) {
			summary.LastSession = end
		}
	}
	return summary, nil
}

// fetch runs a budget-gated, rate-limited GET and returns the body of a
// 2xx response. Non-2xx statuses are errors.
func (c *Client) fetch(ctx context.Context, bud *budget.Budget, target, url string) ([]byte, error) {
	status, body, err := c.fetchStatus(ctx, bud, target, url)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, domerrors.NewFetchError(url, status, fmt.Errorf("vatsim: unexpected status %d", status))
	}
	return body, nil
}

// fetchStatus is fetch without the status check: callers that give 404 a
// meaning read the status themselves.
func (c *Client) fetchStatus(ctx context.Context, bud *budget.Budget, target, url string) (int, []byte, error) {
	timeout := c.callTimeout
	if bud != nil {
		// Clamp the call timeout to the remaining tick window so a call
		// launched near the deadline cannot outlive the tick.
		if remaining := bud.Remaining(); remaining < timeout {
			timeout = remaining
		}
		if err := bud.Acquire(timeout); err != nil {
			c.metrics.RecordFetch(target, "refused", 0)
			return 0, nil, err
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("vatsim: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.RecordFetch(target, "error", elapsed)
		return 0, nil, fmt.Errorf("vatsim: get %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordFetch(target, "error", elapsed)
		return 0, nil, fmt.Errorf("vatsim: read %s: %w", url, err)
	}

	c.metrics.RecordFetch(target, "success", elapsed)
	return resp.StatusCode, body, nil
}

// parseSessionTime accepts the API's timestamp with or without a zone
// suffix. Zero time means unparseable.
func parseSessionTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
