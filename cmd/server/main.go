// Package main provides the currency monitor server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/RealLeviticus/vatpaccurrency/internal/api"
	"github.com/RealLeviticus/vatpaccurrency/internal/buildinfo"
	"github.com/RealLeviticus/vatpaccurrency/internal/config"
	"github.com/RealLeviticus/vatpaccurrency/internal/githubstore"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/metrics"
	"github.com/RealLeviticus/vatpaccurrency/internal/objstore"
	"github.com/RealLeviticus/vatpaccurrency/internal/sentry"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
	"github.com/RealLeviticus/vatpaccurrency/internal/vatsim"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting VATPAC currency monitor")

	// Initialize error tracking (no-op when no DSN is configured)
	if err := sentry.Initialize(sentry.Config{
		DSN:     cfg.SentryDSN,
		Release: buildinfo.Version,
	}); err != nil {
		log.WithError(err).Warn("Failed to initialize Sentry, error tracking disabled")
	} else if sentry.IsEnabled() {
		log.Info("Sentry error tracking enabled")
	}
	defer sentry.Flush(2 * time.Second)

	// Create Prometheus registry
	registry := prometheus.NewRegistry()

	// Register Go and process collectors
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewBuildInfoCollector())

	// Create metrics
	m := metrics.New(registry)
	log.Info("Metrics initialized")

	// Select the content store backend
	backend, err := newBackend(context.Background(), cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create store backend")
	}
	log.WithField("backend", cfg.StoreBackend).
		WithField("path", cfg.StorePath()).
		Info("Content store configured")

	// Create VATSIM client
	client := vatsim.New(vatsim.Config{
		DataURL: cfg.VatsimDataURL,
		APIURL:  cfg.VatsimAPIURL,
	}, m, log)
	log.Info("VATSIM client created")

	// Set Gin mode based on log level
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	if sentry.IsEnabled() {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(securityHeadersMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(api.CORS(cfg.AllowedOrigin))

	// Setup routes
	apiHandler := api.New(backend, client, m, log)
	setupRoutes(router, apiHandler, backend, registry)

	// Create HTTP server with timeouts sized for the small JSON API
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Scheduled tick goroutine (presence + audit + quarterly trigger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Panic in tick goroutine")
				sentry.CaptureMessage(fmt.Sprintf("tick goroutine panic: %v", r))
			}
		}()
		runTicks(ctx, cfg, backend, client, m, log)
	}()

	// Start server in goroutine
	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Cancel context to stop the tick loop
	cancel()

	// Wait for goroutines to finish (with timeout)
	goDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(goDone)
	}()

	select {
	case <-goDone:
		log.Info("All background goroutines stopped")
	case <-time.After(5 * time.Second):
		log.Warn("Timeout waiting for goroutines to stop")
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown server gracefully
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server stopped")
}

// newBackend builds the configured content store backend.
func newBackend(ctx context.Context, cfg *config.Config) (store.ContentStore, error) {
	switch cfg.StoreBackend {
	case "github":
		return githubstore.New(githubstore.Config{
			Repo:   cfg.GitHubRepo,
			Branch: cfg.GitHubBranch,
			Path:   cfg.StorePath(),
			Token:  cfg.GitHubToken,
		}), nil
	case "s3":
		return objstore.New(ctx, objstore.Config{
			Endpoint:    cfg.S3Endpoint,
			AccessKeyID: cfg.S3AccessKeyID,
			SecretKey:   cfg.S3SecretKey,
			BucketName:  cfg.S3Bucket,
			Key:         cfg.StorePath(),
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
