// Package api exposes the REST surface consumed by the dashboard. Every
// request builds a fresh store façade, loads the document, mutates it,
// and flushes before responding; optimistic concurrency in the store
// resolves races with the scheduled tick.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RealLeviticus/vatpaccurrency/internal/budget"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
	"github.com/RealLeviticus/vatpaccurrency/internal/vatsim"
)

// DataPlane is the slice of the VATSIM client the API consumes.
type DataPlane interface {
	GetOnlineControllers(ctx context.Context, bud *budget.Budget) ([]vatsim.Controller, error)
	GetMember(ctx context.Context, bud *budget.Budget, cid string) (*vatsim.Member, error)
}

// Handler serves the /api routes.
type Handler struct {
	backend store.ContentStore
	client  DataPlane
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates the API handler.
func New(backend store.ContentStore, client DataPlane, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{
		backend: backend,
		client:  client,
		log:     log.WithModule("api"),
		metrics: m,
		now:     time.Now,
	}
}

// Register mounts the API routes.
func (h *Handler) Register(router gin.IRouter) {
	api := router.Group("/api")
	api.Use(h.recordMetrics())

	api.GET("/watchlist", h.listWatchlist)
	api.POST("/watchlist", h.addWatchlist)
	api.DELETE("/watchlist/:cid", h.removeWatchlist)
	api.GET("/audit/:scope", h.auditView)
	api.POST("/audit/run", h.auditRun)
	api.GET("/presence", h.presence)
	api.GET("/stats", h.stats)
}

// CORS applies the configured-origin envelope and short-circuits
// preflight requests.
func CORS(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) recordMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RecordAPIRequest(route, fmt.Sprintf("%dxx", c.Writer.Status()/100))
	}
}

// loadStore builds and loads a per-request store façade.
func (h *Handler) loadStore(c *gin.Context) (*store.Store, bool) {
	st := store.New(h.backend, h.log)
	if err := st.Load(c.Request.Context()); err != nil {
		h.log.WithError(err).Error("Store load failed")
		respondError(c, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return st, true
}

// flush writes staged edits back, mapping conflicts to a retryable 503.
func (h *Handler) flush(c *gin.Context, st *store.Store, message string) bool {
	if err := st.Flush(c.Request.Context(), message); err != nil {
		h.log.WithError(err).WithField("message", message).Error("Store flush failed")
		respondError(c, http.StatusServiceUnavailable, "store busy, try again")
		return false
	}
	return true
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func isoTime(epoch int64) string {
	if epoch == 0 {
		return ""
	}
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}
