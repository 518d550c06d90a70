package api

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RealLeviticus/vatpaccurrency/internal/audit"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

type activeJobView struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	TicksRemaining int     `json:"ticksRemaining"`
	StartedAt      string  `json:"startedAt"`
	CompletedAt    *string `json:"completedAt"`
}

type completedView struct {
	ID             string  `json:"id"`
	CID            string  `json:"cid"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	HoursLogged    float64 `json:"hoursLogged"`
	TicksRemaining int     `json:"ticksRemaining"`
	StartedAt      string  `json:"startedAt"`
	CompletedAt    string  `json:"completedAt"`
}

type auditStats struct {
	TotalActive    int     `json:"totalActive"`
	TotalCompleted int     `json:"totalCompleted"`
	AverageHours   float64 `json:"averageHours"`
}

func (h *Handler) auditView(c *gin.Context) {
	scope := c.Param("scope")
	if _, ok := audit.Params(scope); !ok {
		respondError(c, http.StatusBadRequest, "Invalid audit scope")
		return
	}

	st, ok := h.loadStore(c)
	if !ok {
		return
	}

	active := []activeJobView{}
	var job audit.Job
	if found, _ := st.Get(store.KeyAuditJob, &job); found && job.Scope == scope && !job.Done() {
		active = append(active, activeJobView{
			ID:             job.ID,
			Type:           job.Scope,
			Status:         "active",
			Progress:       job.Progress(),
			TicksRemaining: job.TicksRemaining(),
			StartedAt:      isoTime(job.CreatedAt),
			CompletedAt:    nil,
		})
	}

	var results []audit.Result
	_, _ = st.Get(store.AuditPartialKey(scope), &results)

	completed := make([]completedView, 0, len(results))
	var hoursSum float64
	var hoursN int
	for _, r := range results {
		completed = append(completed, completedView{
			ID:             "audit_" + r.CID,
			CID:            r.CID,
			Name:           h.memberName(st, r.CID),
			Type:           scope,
			Status:         "completed",
			HoursLogged:    round2(r.Hours),
			TicksRemaining: 0,
			StartedAt:      isoTime(job.CreatedAt),
			CompletedAt:    isoTime(r.ComputedAt),
		})
		if !r.Exempt && !r.Missing && !r.Incomplete {
			hoursSum += r.Hours
			hoursN++
		}
	}

	stats := auditStats{
		TotalActive:    len(active),
		TotalCompleted: len(completed),
	}
	if hoursN > 0 {
		stats.AverageHours = round2(hoursSum / float64(hoursN))
	}

	c.JSON(http.StatusOK, gin.H{
		"active":    active,
		"completed": completed,
		"stats":     stats,
	})
}

func (h *Handler) auditRun(c *gin.Context) {
	var req struct {
		Scope string `json:"scope"`
	}
	// An empty body runs the default visiting sweep.
	_ = c.ShouldBindJSON(&req)
	if req.Scope == "" {
		req.Scope = audit.ScopeVisiting
	}

	st, ok := h.loadStore(c)
	if !ok {
		return
	}

	var watchlist []string
	if _, err := st.Get(store.KeyWatchlist, &watchlist); err != nil {
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	job, err := audit.Start(st, req.Scope, watchlist, h.now())
	switch {
	case errors.Is(err, domerrors.ErrInvalidScope):
		respondError(c, http.StatusBadRequest, "Invalid audit scope")
		return
	case errors.Is(err, domerrors.ErrJobActive):
		respondError(c, http.StatusConflict, "Audit already running")
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	if !h.flush(c, st, "audit run "+req.Scope) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job": gin.H{
			"id":    job.ID,
			"scope": job.Scope,
			"total": job.Total,
		},
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
