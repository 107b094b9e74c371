// Package classify maps errors from external boundaries onto a fixed
// category taxonomy. The retry engine and the attempt records both consume
// the collapsed tri-state disposition rather than the full category set.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category identifies the failure class of a boundary error.
type Category string

const (
	CategoryTransient  Category = "transient"
	CategoryRateLimit  Category = "rate_limit"
	CategoryDependency Category = "dependency"
	CategoryTimeout    Category = "timeout"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryPermanent  Category = "permanent"
	CategoryUnknown    Category = "unknown"
)

// Disposition is the tri-state the retry engine branches on and the value
// recorded in AgentAttempt.error_category.
type Disposition string

const (
	DispositionTransient     Disposition = "transient"
	DispositionDeterministic Disposition = "deterministic"
	DispositionUnknown       Disposition = "unknown"
)

// Disposition collapses a category to retriable / fatal / unknown.
func (c Category) Disposition() Disposition {
	switch c {
	case CategoryTransient, CategoryRateLimit, CategoryDependency, CategoryTimeout:
		return DispositionTransient
	case CategoryAuth, CategoryValidation, CategoryPermanent:
		return DispositionDeterministic
	default:
		return DispositionUnknown
	}
}

// Retriable reports whether the retry engine may attempt the call again.
// Unknown errors are retried with caution.
func (c Category) Retriable() bool {
	return c.Disposition() != DispositionDeterministic
}

// HTTPError carries an HTTP status across a boundary so the classifier sees
// the code instead of parsing message text.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// NewHTTPError builds an HTTPError from a status code and a short body
// excerpt.
func NewHTTPError(status int, body string) *HTTPError {
	return &HTTPError{Status: status, Body: body}
}

// TransientError marks an error as known-retriable at the call site.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// Transient wraps an error as transient (retryable).
func Transient(err error) error {
	return &TransientError{err: err}
}

// FatalError marks an error as known-deterministic at the call site.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// Fatal wraps an error as deterministic (never retried).
func Fatal(err error) error {
	return &FatalError{err: err}
}

// ValidationError marks an error as a rejected-output validation failure.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string { return e.err.Error() }
func (e *ValidationError) Unwrap() error { return e.err }

// Validation wraps an error as a validation failure (never retried).
func Validation(err error) error {
	return &ValidationError{err: err}
}

// IsTransient reports whether err carries a TransientError wrapper.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err carries a FatalError wrapper.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// Classify maps any error onto the category taxonomy. Typed signals win over
// message shapes; the default is unknown.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return CategoryValidation
	}
	if IsFatal(err) {
		return CategoryPermanent
	}
	if IsTransient(err) {
		return CategoryTransient
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.Status)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryDependency
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryDependency
	}

	return classifyMessage(err.Error())
}

func classifyStatus(status int) Category {
	switch {
	case status == 429:
		return CategoryRateLimit
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 400 || status == 422:
		return CategoryValidation
	case status == 404 || status == 409:
		return CategoryPermanent
	case status == 502 || status == 503:
		return CategoryDependency
	case status == 408 || status == 504:
		return CategoryTimeout
	case status >= 500:
		return CategoryTransient
	case status >= 400:
		return CategoryPermanent
	default:
		return CategoryUnknown
	}
}

// classifyMessage is the last-resort shape check for errors that arrive as
// bare strings from third-party clients.
func classifyMessage(msg string) Category {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return CategoryRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") || strings.Contains(lower, "no such host") || strings.Contains(lower, "broken pipe"):
		return CategoryDependency
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden"):
		return CategoryAuth
	case strings.Contains(lower, "validation") || strings.Contains(lower, "invalid") || strings.Contains(lower, "schema"):
		return CategoryValidation
	case strings.Contains(lower, "not found") || strings.Contains(lower, "conflict"):
		return CategoryPermanent
	default:
		return CategoryUnknown
	}
}
