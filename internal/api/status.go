package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RealLeviticus/vatpaccurrency/internal/audit"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

type onlineView struct {
	CID       string `json:"cid"`
	Callsign  string `json:"callsign"`
	Frequency string `json:"frequency,omitempty"`
	Name      string `json:"name"`
}

// presence intersects the current live feed with the watchlist.
func (h *Handler) presence(c *gin.Context) {
	st, ok := h.loadStore(c)
	if !ok {
		return
	}

	var watchlist []string
	if _, err := st.Get(store.KeyWatchlist, &watchlist); err != nil {
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	watched := make(map[string]struct{}, len(watchlist))
	for _, id := range watchlist {
		watched[id] = struct{}{}
	}

	live, err := h.client.GetOnlineControllers(c.Request.Context(), nil)
	if err != nil {
		h.log.WithError(err).Error("Live feed fetch failed")
		respondError(c, http.StatusBadGateway, "Unable to load live feed")
		return
	}

	online := []onlineView{}
	for _, ctrl := range live {
		if _, ok := watched[ctrl.CID]; !ok {
			continue
		}
		name := ctrl.Name
		if name == "" {
			name = h.memberName(st, ctrl.CID)
		}
		online = append(online, onlineView{
			CID:       ctrl.CID,
			Callsign:  ctrl.Callsign,
			Frequency: ctrl.Frequency,
			Name:      name,
		})
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

// stats aggregates counts from the watchlist, the active job, and both
// scopes' partial results.
func (h *Handler) stats(c *gin.Context) {
	st, ok := h.loadStore(c)
	if !ok {
		return
	}

	var watchlist []string
	_, _ = st.Get(store.KeyWatchlist, &watchlist)

	onlineCount := 0
	online := map[string]struct {
		Online bool `json:"online"`
	}{}
	_, _ = st.Get(store.KeyOnlineState, &online)
	for _, state := range online {
		if state.Online {
			onlineCount++
		}
	}

	var activeJob gin.H
	var job audit.Job
	if found, _ := st.Get(store.KeyAuditJob, &job); found && !job.Done() {
		activeJob = gin.H{
			"id":       job.ID,
			"scope":    job.Scope,
			"progress": job.Progress(),
		}
	}

	scopes := gin.H{}
	for _, scope := range []string{audit.ScopeVisiting, audit.ScopeLocal} {
		var results []audit.Result
		_, _ = st.Get(store.AuditPartialKey(scope), &results)

		flagged := 0
		var hoursSum float64
		var hoursN int
		for _, r := range results {
			if r.Flagged {
				flagged++
			}
			if !r.Exempt && !r.Missing && !r.Incomplete {
				hoursSum += r.Hours
				hoursN++
			}
		}
		entry := gin.H{
			"completed": len(results),
			"flagged":   flagged,
		}
		if hoursN > 0 {
			entry["averageHours"] = round2(hoursSum / float64(hoursN))
		}
		scopes[scope] = entry
	}

	c.JSON(http.StatusOK, gin.H{
		"watchlist": len(watchlist),
		"online":    onlineCount,
		"activeJob": activeJob,
		"scopes":    scopes,
	})
}
