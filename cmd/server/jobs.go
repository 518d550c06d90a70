// Package main provides the currency monitor server entry point.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/RealLeviticus/vatpaccurrency/internal/audit"
	"github.com/RealLeviticus/vatpaccurrency/internal/budget"
	"github.com/RealLeviticus/vatpaccurrency/internal/config"
	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
	"github.com/RealLeviticus/vatpaccurrency/internal/presence"
	"github.com/RealLeviticus/vatpaccurrency/internal/sentry"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
	"github.com/RealLeviticus/vatpaccurrency/internal/vatsim"
)

// tickInitialDelay lets the server come up before the first scheduled tick.
const tickInitialDelay = 10 * time.Second

// runTicks drives the scheduled tick until the context is cancelled.
func runTicks(ctx context.Context, cfg *config.Config, backend store.ContentStore, client *vatsim.Client, m *metrics.Metrics, log *logger.Logger) {
	log = log.WithModule("tick")

	select {
	case <-ctx.Done():
		return
	case <-time.After(tickInitialDelay):
		performTick(ctx, cfg, backend, client, m, log)
	}

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			performTick(ctx, cfg, backend, client, m, log)
		}
	}
}

// performTick executes one scheduled tick: load the document, run the
// expiry sweep, the presence diff, one audit block, and the quarterly
// trigger, then flush whatever changed. Every phase shares one
// subrequest and wall-clock budget so a tick can never overrun its slot.
func performTick(ctx context.Context, cfg *config.Config, backend store.ContentStore, client *vatsim.Client, m *metrics.Metrics, log *logger.Logger) {
	tickStart := time.Now()

	st := store.New(backend, log)
	if err := st.Load(ctx); err != nil {
		log.WithError(err).Error("Tick aborted, store load failed")
		sentry.CaptureException(err)
		return
	}

	bud := budget.New(cfg.SubreqBudget, cfg.TickBudget)

	// Expiry sweep (self-gated to at most once per cleanup interval)
	if removed := st.MaybeCleanup(); removed > 0 {
		log.WithField("removed", removed).Info("Expired keys swept")
	}

	// Presence phase
	phaseStart := time.Now()
	var watchlist []string
	if _, err := st.Get(store.KeyWatchlist, &watchlist); err != nil {
		log.WithError(err).Error("Watchlist decode failed")
	} else if len(watchlist) > 0 {
		live, err := client.GetOnlineControllers(ctx, bud)
		if err != nil {
			// Presence is recomputed from scratch next tick, so a failed
			// feed fetch is only worth a warning.
			log.WithError(err).Warn("Live feed fetch failed, skipping presence phase")
		} else if transitions, err := presence.New(st, log).Track(watchlist, live); err != nil {
			log.WithError(err).Error("Presence tracking failed")
		} else if transitions > 0 {
			log.WithField("transitions", transitions).Info("Presence updated")
		}
	}
	m.RecordTick("presence", time.Since(phaseStart).Seconds())

	// Audit phase
	phaseStart = time.Now()
	if err := audit.NewEngine(st, client, m, log).Tick(ctx, bud); err != nil {
		log.WithError(err).Error("Audit tick failed")
		sentry.CaptureException(err)
	}
	m.RecordTick("audit", time.Since(phaseStart).Seconds())

	// Quarterly trigger
	if enqueued, err := audit.NewTrigger(st, log).Maybe(); err != nil {
		log.WithError(err).Error("Quarterly trigger failed")
	} else if enqueued {
		log.Info("Quarterly audit sweep enqueued")
	}

	// Flush staged edits. A conflict here means both retries lost the
	// race; the next tick recomputes from the winner's document.
	if st.Dirty() {
		switch err := st.Flush(ctx, "scheduled tick"); {
		case errors.Is(err, domerrors.ErrStoreConflict):
			log.WithError(err).Warn("Tick flush lost the store race")
			m.RecordConflict()
			m.RecordFlush("conflict", 0)
		case err != nil:
			log.WithError(err).Error("Tick flush failed")
			sentry.CaptureException(err)
			m.RecordFlush("error", 0)
		default:
			m.RecordFlush("ok", 0)
		}
	}

	m.RecordSubrequests(bud.Subrequests())
	m.RecordTick("total", time.Since(tickStart).Seconds())
	log.WithField("subrequests", bud.Subrequests()).
		WithField("duration_ms", time.Since(tickStart).Milliseconds()).
		Debug("Tick complete")
}
