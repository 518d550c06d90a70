package githubstore

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Write retry policy: 3 attempts, exponential backoff from 700ms capped at
// 15s, honouring Retry-After on throttled responses.
const (
	maxAttempts  = 3
	initialDelay = 700 * time.Millisecond
	maxDelay     = 15 * time.Second
)

// permanentError marks failures that must not be retried (auth errors,
// precondition failures, malformed requests).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryAfterError carries a server-requested delay from a Retry-After header.
type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// retryWithBackoff retries fn with exponential backoff. A permanentError
// stops immediately; a retryAfterError replaces the computed delay with the
// server-requested one.
func retryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var permErr *permanentError
		if errors.As(err, &permErr) {
			return permErr.Unwrap()
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := time.Duration(float64(initialDelay) * math.Pow(2, float64(attempt)))
		if delay > maxDelay {
			delay = maxDelay
		}
		var raErr *retryAfterError
		if errors.As(err, &raErr) && raErr.delay > 0 {
			delay = raErr.delay
			if delay > maxDelay {
				delay = maxDelay
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// parseRetryAfter reads a Retry-After header as either delta-seconds or an
// HTTP date. Zero means the header was absent or unparseable.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
