// Package apperr defines the orchestrator's error taxonomy.
//
// Every failure that crosses a service boundary is classified into a
// Category carrying a retryable flag, so callers can branch on the kind of
// failure without string matching. Senders and dispatchers surface these
// as structured results; only unknown errors escape unclassified.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Category classifies a failure.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryRateLimit      Category = "rate_limit"
	CategoryServer         Category = "server"
	CategoryAuthentication Category = "authentication"
	CategoryConfiguration  Category = "configuration"
	CategoryValidation     Category = "validation"
	CategoryDecryption     Category = "decryption"
	CategoryUnknown        Category = "unknown"
)

// Retryable reports whether failures of this category are worth retrying.
// Rate-limited failures are retryable after the advertised delay.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryServer:
		return true
	}
	return false
}

// Error is a classified failure. StatusCode is set for HTTP-derived errors
// and RetryAfter for rate-limit responses that advertised a delay.
type Error struct {
	Category   Category
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error is worth retrying.
func (e *Error) Retryable() bool { return e.Category.Retryable() }

// New creates a classified error.
func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(cat Category, msg string, err error) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// RateLimited creates a rate_limit error with an optional advertised delay.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Category: CategoryRateLimit, Message: msg, StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter}
}

// CategoryOf extracts the category of err, or CategoryUnknown if err was
// never classified.
func CategoryOf(err error) Category {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return CategoryUnknown
}

// IsRetryable reports whether err carries a retryable category. Unknown
// errors are not retryable.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return false
}

// RetryAfterOf returns the advertised retry delay of a rate-limit error,
// or zero if none.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// FromHTTPStatus classifies an HTTP response status. 2xx statuses return
// nil. retryAfter applies only to 429 responses.
func FromHTTPStatus(status int, body string, retryAfter time.Duration) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		e := RateLimited("rate limited", retryAfter)
		e.Err = fmt.Errorf("http %d: %s", status, body)
		return e
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Category: CategoryAuthentication, Message: "authentication rejected", StatusCode: status}
	case status >= 500:
		return &Error{Category: CategoryServer, Message: fmt.Sprintf("server error: %s", body), StatusCode: status}
	default:
		return &Error{Category: CategoryValidation, Message: fmt.Sprintf("request rejected: %s", body), StatusCode: status}
	}
}

// FromTransport classifies a transport-level failure from the HTTP client:
// context deadline and net timeouts become timeout errors, everything else
// network errors.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CategoryTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(CategoryTimeout, "request timed out", err)
	}
	return Wrap(CategoryNetwork, "request failed", err)
}
