// Package main provides the currency monitor server entry point.
package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RealLeviticus/vatpaccurrency/internal/api"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

// setupRoutes configures all HTTP routes
func setupRoutes(router *gin.Engine, apiHandler *api.Handler, backend store.ContentStore, registry *prometheus.Registry) {
	// Root endpoint - redirect to the project page
	rootHandler := func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "https://github.com/RealLeviticus/vatpaccurrency")
	}
	router.GET("/", rootHandler)
	router.HEAD("/", rootHandler)

	// Health check endpoints
	// Liveness Probe - checks if the application is alive (minimal check)
	// This should NEVER check dependencies - only that the process is running
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/healthz", healthHandler)
	router.HEAD("/healthz", healthHandler)

	// Readiness Probe - checks the content store is reachable
	readyHandler := func(c *gin.Context) {
		// A missing document is fine, the first flush creates it.
		if _, _, err := backend.Get(c.Request.Context()); err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"store":  "connected",
		})
	}
	router.GET("/ready", readyHandler)
	router.HEAD("/ready", readyHandler)

	// Dashboard API
	apiHandler.Register(router)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}
