package search

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the index backend is unreachable or
	// closed. Callers in the sync path retry these with backoff.
	ErrUnavailable = errors.New("search index unavailable")

	// ErrNotFound is returned when a requested document or index does not
	// exist. Deletes of missing ids never return this; they succeed.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed queries, unknown filter
	// fields, or out-of-range paging. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout is returned when a query exceeds its deadline. Classified
	// as retryable, same as ErrUnavailable.
	ErrTimeout = errors.New("search timed out")
)

// IsRetryable reports whether an error represents a transient condition that
// the syncer should retry with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
