package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/RealLeviticus/vatpaccurrency/internal/cid"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/presence"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

// memberRecord is the slice of the member:<cid> cache entry we read back.
type memberRecord struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type watchlistUser struct {
	CID      string `json:"cid"`
	Name     string `json:"name"`
	AddedAt  string `json:"addedAt,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

func (h *Handler) listWatchlist(c *gin.Context) {
	st, ok := h.loadStore(c)
	if !ok {
		return
	}

	var watchlist []string
	if _, err := st.Get(store.KeyWatchlist, &watchlist); err != nil {
		h.log.WithError(err).Error("Watchlist decode failed")
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	added := map[string]int64{}
	_, _ = st.Get(store.KeyWatchlistMeta, &added)
	online := map[string]presence.State{}
	_, _ = st.Get(store.KeyOnlineState, &online)

	users := make([]watchlistUser, 0, len(watchlist))
	for _, id := range watchlist {
		users = append(users, watchlistUser{
			CID:      id,
			Name:     h.memberName(st, id),
			AddedAt:  isoTime(added[id]),
			IsOnline: online[id].Online,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) addWatchlist(c *gin.Context) {
	var req struct {
		CID any `json:"cid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	canonical, err := cid.Normalize(rawCID(req.CID))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid CID format")
		return
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
	for _, id := range watchlist {
		if id == canonical {
			respondError(c, http.StatusConflict, "Already on watchlist")
			return
		}
	}

	// Verify the CID belongs to a real member, caching the record for
	// later enrichment.
	member, err := h.client.GetMember(c.Request.Context(), nil, canonical)
	switch {
	case errors.Is(err, domerrors.ErrNotFound):
		respondError(c, http.StatusNotFound, "Unknown CID")
		return
	case err != nil:
		h.log.WithError(err).WithField("cid", canonical).Error("Member verification failed")
		respondError(c, http.StatusBadGateway, "Unable to verify CID")
		return
	}
	_ = st.CachePut(store.MemberKey(canonical), memberRecord{
		Name:   member.FullName(),
		Rating: member.Rating,
	})

	watchlist = append(watchlist, canonical)
	sort.Slice(watchlist, func(i, j int) bool {
		a, _ := strconv.ParseInt(watchlist[i], 10, 64)
		b, _ := strconv.ParseInt(watchlist[j], 10, 64)
		return a < b
	})
	if err := st.Set(store.KeyWatchlist, watchlist); err != nil {
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	now := h.now().Unix()
	added := map[string]int64{}
	_, _ = st.Get(store.KeyWatchlistMeta, &added)
	added[canonical] = now
	if err := st.Set(store.KeyWatchlistMeta, added); err != nil {
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	if !h.flush(c, st, "watchlist add "+canonical) {
		return
	}

	name := member.FullName()
	if name == "" {
		name = "Controller " + canonical
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"cid":     canonical,
			"name":    name,
			"addedAt": isoTime(now),
		},
	})
}

func (h *Handler) removeWatchlist(c *gin.Context) {
	canonical, err := cid.Normalize(c.Param("cid"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid CID format")
		return
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

	found := false
	next := watchlist[:0]
	for _, id := range watchlist {
		if id == canonical {
			found = true
			continue
		}
		next = append(next, id)
	}
	if !found {
		respondError(c, http.StatusNotFound, "Not on watchlist")
		return
	}

	if err := st.Set(store.KeyWatchlist, next); err != nil {
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	added := map[string]int64{}
	if ok, _ := st.Get(store.KeyWatchlistMeta, &added); ok {
		delete(added, canonical)
		_ = st.Set(store.KeyWatchlistMeta, added)
	}

	if !h.flush(c, st, "watchlist remove "+canonical) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// memberName resolves a display name from the member cache, falling back
// to a placeholder when no record is cached.
func (h *Handler) memberName(st *store.Store, id string) string {
	var record memberRecord
	if st.CacheGet(store.MemberKey(id), store.TTLMember, &record) && record.Name != "" {
		return record.Name
	}
	return "Controller " + id
}

// rawCID renders the request's cid field, which arrives as either a JSON
// string or a number.
func rawCID(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
