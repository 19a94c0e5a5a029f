package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-price-harvester/identity"
	"github.com/aluiziolira/go-price-harvester/store"
)

// ErrPolicyDenied matches every *PolicyDeniedError via errors.Is.
var ErrPolicyDenied = errors.New("policy denied")

// ErrEmptyResponse indicates the target answered with an empty body.
var ErrEmptyResponse = errors.New("empty response body")

// PolicyDeniedError reports a fetch refused before any network access
// (robots.txt) or by the hourly quota. It is never retried.
type PolicyDeniedError struct {
	URL    string
	Reason string
	Err    error
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied %s: %s", e.URL, e.Reason)
}

func (e *PolicyDeniedError) Is(target error) bool {
	return target == ErrPolicyDenied
}

func (e *PolicyDeniedError) Unwrap() error {
	return e.Err
}

// FetchExhaustedError carries the last render failure after the retry
// budget ran out.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s exhausted after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrorLabel maps err to a stable label for metrics and run summaries.
// Outcome labels win over the render failure they wrap.
func ErrorLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, ErrPolicyDenied) {
		return "policy_denied"
	}
	if errors.Is(err, identity.ErrNoIdentityAvailable) {
		return "no_identity"
	}
	if errors.Is(err, store.ErrPersistenceConflict) {
		return "persistence_conflict"
	}
	var exhausted *FetchExhaustedError
	if errors.As(err, &exhausted) {
		return "fetch_exhausted"
	}
	return renderErrorLabel(err)
}

func renderErrorLabel(err error) string {
	var timeout ErrTimeout
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	return "other"
}
