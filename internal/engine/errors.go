// Package engine provides the incremental paginated collection engine:
// the pagination driver, deduplication, parent linking, checkpoint
// management, enrichment scheduling and rate limiting shared by every source.
package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error kinds for classified collection failures.
var (
	// ErrRateLimited is returned when the upstream throttles the caller.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthFailed is returned when credentials are rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when access to the resource is denied.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidConfig is returned when source options are invalid.
	ErrInvalidConfig = errors.New("invalid source configuration")

	// ErrTransientNetwork is returned for transport-level failures.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrUpstreamServer is returned for 5xx responses; the run caller may
	// schedule a later retry of the whole run.
	ErrUpstreamServer = errors.New("upstream server error")

	// ErrParse is returned when a single raw item cannot be decoded. It is
	// caught at the item level and never aborts a run.
	ErrParse = errors.New("parse error")
)

// RateLimitError carries the upstream-advertised retry delay so the caller
// can schedule a delayed re-run instead of busy-retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ClassifyStatus maps an HTTP response status to the error taxonomy.
// Returns nil for 2xx. The headers argument may be nil.
func ClassifyStatus(status int, headers http.Header) error {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(headers)}
	case status == http.StatusUnauthorized:
		return ErrAuthFailed
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUpstreamServer, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// IsFatal reports whether a classified error should abort the run with no
// result. Rate limiting, 5xx and network errors are left to the run caller
// to reschedule; everything else unrecoverable is fatal.
func IsFatal(err error) bool {
	switch {
	case errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound):
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After header as either seconds or HTTP-date.
func parseRetryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
