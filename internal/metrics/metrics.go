package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Tick metrics
	TickDurationSeconds *prometheus.HistogramVec
	TickSubrequests     prometheus.Histogram

	// Outbound fetch metrics
	FetchRequestsTotal   *prometheus.CounterVec
	FetchDurationSeconds *prometheus.HistogramVec

	// Store metrics
	StoreFlushesTotal   *prometheus.CounterVec
	StoreConflictsTotal prometheus.Counter
	StoreDocumentBytes  prometheus.Gauge

	// Audit metrics
	AuditCursor       *prometheus.GaugeVec
	AuditVerdictTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TickDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "currency_tick_duration_seconds",
				Help:    "Scheduled tick duration in seconds by phase",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 8, 12, 20}, // 12s tick budget
			},
			[]string{"phase"}, // phase: cleanup, presence, audit, quarterly
		),

		TickSubrequests: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "currency_tick_subrequests",
				Help:    "Outbound calls consumed per tick",
				Buckets: []float64{0, 5, 10, 20, 40, 80, 120},
			},
		),

		FetchRequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "currency_fetch_requests_total",
				Help: "Total outbound fetches by target and status",
			},
			[]string{"target", "status"}, // status: success, error, timeout, refused
		),

		FetchDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "currency_fetch_duration_seconds",
				Help:    "Outbound fetch duration in seconds by target",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25}, // 25s call timeout
			},
			[]string{"target"}, // target: datafeed, member, sessions, store
		),

		StoreFlushesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "currency_store_flushes_total",
				Help: "Store document flushes by outcome",
			},
			[]string{"outcome"}, // outcome: clean, merged, conflict, error, noop
		),

		StoreConflictsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "currency_store_conflicts_total",
				Help: "Optimistic-concurrency precondition failures on PUT",
			},
		),

		StoreDocumentBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "currency_store_document_bytes",
				Help: "Size of the persisted store document after last flush",
			},
		),

		AuditCursor: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "currency_audit_cursor",
				Help: "Active audit job cursor position by scope",
			},
			[]string{"scope"},
		),

		AuditVerdictTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "currency_audit_verdicts_total",
				Help: "Per-controller audit verdicts by scope and result",
			},
			[]string{"scope", "result"}, // result: ok, flagged, exempt, missing, incomplete
		),

		APIRequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "currency_api_requests_total",
				Help: "API requests by route and status class",
			},
			[]string{"route", "status"},
		),
	}

	return m
}

// RecordTick records a tick phase duration
func (m *Metrics) RecordTick(phase string, seconds float64) {
	m.TickDurationSeconds.WithLabelValues(phase).Observe(seconds)
}

// RecordSubrequests records outbound calls consumed by a tick
func (m *Metrics) RecordSubrequests(n int) {
	m.TickSubrequests.Observe(float64(n))
}

// RecordFetch records an outbound fetch with status
func (m *Metrics) RecordFetch(target, status string, seconds float64) {
	m.FetchRequestsTotal.WithLabelValues(target, status).Inc()
	m.FetchDurationSeconds.WithLabelValues(target).Observe(seconds)
}

// RecordFlush records a store flush outcome
func (m *Metrics) RecordFlush(outcome string, documentBytes int) {
	m.StoreFlushesTotal.WithLabelValues(outcome).Inc()
	if documentBytes > 0 {
		m.StoreDocumentBytes.Set(float64(documentBytes))
	}
}

// RecordConflict records a precondition failure on PUT
func (m *Metrics) RecordConflict() {
	m.StoreConflictsTotal.Inc()
}

// RecordCursor records the active job's cursor position
func (m *Metrics) RecordCursor(scope string, cursor int) {
	m.AuditCursor.WithLabelValues(scope).Set(float64(cursor))
}

// RecordVerdict records a per-controller audit verdict
func (m *Metrics) RecordVerdict(scope, result string) {
	m.AuditVerdictTotal.WithLabelValues(scope, result).Inc()
}

// RecordAPIRequest records an API request by route and status class
func (m *Metrics) RecordAPIRequest(route, status string) {
	m.APIRequestsTotal.WithLabelValues(route, status).Inc()
}
