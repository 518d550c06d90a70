// Package config provides application configuration management.
// It loads settings from environment variables and provides defaults for
// the content store, the VATSIM data plane, tick scheduling, and the API.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server Configuration
	Port            string
	LogLevel        string
	AllowedOrigin   string // CORS Access-Control-Allow-Origin value
	ShutdownTimeout time.Duration

	// Content store Configuration
	StoreBackend string // "github" or "s3"

	// GitHub contents-API backend
	GitHubRepo   string // "owner/repo"
	GitHubBranch string
	GitHubDir    string // directory holding store.json
	GitHubToken  string

	// S3-compatible (R2) backend
	S3Endpoint    string
	S3AccessKeyID string
	S3SecretKey   string
	S3Bucket      string

	// VATSIM data plane
	VatsimDataURL string // live datafeed document
	VatsimAPIURL  string // member/sessions REST base

	// Scheduled tick
	TickInterval time.Duration
	TickBudget   time.Duration // wall-clock budget for one tick
	SubreqBudget int           // outbound-call budget for one tick

	// Error tracking
	SentryDSN string
}

// Load reads configuration from environment variables
// It attempts to load .env file first, then reads from env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "*"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		StoreBackend: getEnv("STORE_BACKEND", "github"),

		GitHubRepo:   getEnv("GITHUB_REPO", ""),
		GitHubBranch: getEnv("GITHUB_BRANCH", "main"),
		GitHubDir:    getEnv("GITHUB_DIR", "cf-cache"),
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),

		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID: getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		S3Bucket:      getEnv("S3_BUCKET", ""),

		VatsimDataURL: getEnv("VATSIM_DATA_URL", "https://data.vatsim.net/v3/vatsim-data.json"),
		VatsimAPIURL:  getEnv("VATSIM_API_URL", "https://api.vatsim.net/v2"),

		TickInterval: getDurationEnv("TICK_INTERVAL", 5*time.Minute),
		TickBudget:   getDurationEnv("TICK_BUDGET", 12*time.Second),
		SubreqBudget: getIntEnv("SUBREQ_BUDGET", 120),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	switch c.StoreBackend {
	case "github":
		if c.GitHubRepo == "" {
			errs = append(errs, errors.New("GITHUB_REPO is required for the github store backend"))
		}
		if c.GitHubToken == "" {
			errs = append(errs, errors.New("GITHUB_TOKEN is required for the github store backend"))
		}
	case "s3":
		if c.S3Endpoint == "" || c.S3AccessKeyID == "" || c.S3SecretKey == "" || c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT, S3_ACCESS_KEY_ID, S3_SECRET_KEY and S3_BUCKET are required for the s3 store backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be github or s3, got %q", c.StoreBackend))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be positive, got %v", c.TickInterval))
	}
	if c.TickBudget <= 0 {
		errs = append(errs, fmt.Errorf("TICK_BUDGET must be positive, got %v", c.TickBudget))
	}
	if c.SubreqBudget <= 0 {
		errs = append(errs, fmt.Errorf("SUBREQ_BUDGET must be positive, got %d", c.SubreqBudget))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StorePath returns the store document path within the content store.
func (c *Config) StorePath() string {
	return c.GitHubDir + "/store.json"
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
