// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Typed error kinds raised by the core. The HTTP adapter maps these to the
// stable wire codes; everything below the adapter works in terms of errors.Is.
var (
	// ErrNotFound covers both genuinely missing records and cross-owner
	// lookups, so existence is never leaked.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks non-retryable write conflicts (duplicate txKey,
	// split already applied).
	ErrConflict = errors.New("conflict")

	// ErrValidation marks rejected input: field limits, split sum mismatch,
	// zero-condition rules, unsafe regex patterns, over-cap rules.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a missing or unusable auth context.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable is retryable store trouble.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIndexMissing means a required composite index does not exist and
	// operator action is needed. Kept distinct from generic unavailability.
	ErrIndexMissing = errors.New("index missing")

	// ErrLLMUnavailable triggers the rule-only fallback; it never surfaces
	// past the orchestrator.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrParseFailure means a document yielded zero usable rows.
	ErrParseFailure = errors.New("parse failure")

	// ErrRateLimit indicates that a provider rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
