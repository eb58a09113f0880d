package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/poiesic/imgembed/core"
)

var (
	// ErrInvalidMaxAttempts is returned when a retry policy allows no attempts.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrNoBaseURL is returned when a client is created without a source URL.
	ErrNoBaseURL = errors.New("fetch: base URL is required")

	// ErrDigestMismatch indicates a body whose SHA-256 differs from the hub's digest header.
	ErrDigestMismatch = errors.New("fetch: sha256 digest mismatch")
)

// StatusError is a non-200 response from a hub.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// Unwrap classifies the status as a network failure or a permanent one.
func (e *StatusError) Unwrap() error {
	if e.Transient() {
		return core.ErrNetworkFailure
	}
	return core.ErrPermanentFetch
}

// IsTransient reports whether err should be retried within the same source.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrPermanentFetch) {
		return false
	}
	return errors.Is(err, core.ErrNetworkFailure)
}
