// Package errors provides domain-specific error types and sentinel errors
// for improved error handling across the application.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common scenarios.
// Use errors.Is() to check these errors in your code.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidCID indicates a controller identifier failed canonicalisation.
	ErrInvalidCID = errors.New("invalid CID format")

	// ErrDuplicate indicates the resource already exists.
	ErrDuplicate = errors.New("already exists")

	// ErrBudgetExhausted indicates the tick's sub-request or wall-clock
	// budget was hit. It is a graceful-stop signal, not a failure.
	ErrBudgetExhausted = errors.New("tick budget exhausted")

	// ErrStoreConflict indicates an optimistic-concurrency precondition
	// failure that could not be resolved by the merge-retry path.
	ErrStoreConflict = errors.New("store write conflict")

	// ErrStoreFatal indicates a non-conflict store write failure.
	ErrStoreFatal = errors.New("store write failed")

	// ErrJobActive indicates an audit job is already running.
	ErrJobActive = errors.New("audit job already active")

	// ErrInvalidScope indicates an unknown audit scope.
	ErrInvalidScope = errors.New("invalid audit scope")

	// ErrCacheExpired indicates cached data has exceeded TTL.
	ErrCacheExpired = errors.New("cache expired")
)

// FetchError represents an outbound data-plane request failure with context.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error (url=%s, status=%d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error (url=%s): %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new fetch error.
func NewFetchError(url string, statusCode int, err error) *FetchError {
	return &FetchError{
		URL:        url,
		StatusCode: statusCode,
		Err:        err,
	}
}
