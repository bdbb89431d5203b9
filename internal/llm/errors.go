package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies provider failures into the shared taxonomy.
// Every adapter maps its backend's native error signals onto these
// kinds once, at the boundary; callers above the adapter layer never
// see a backend-native error shape.
type ErrorKind string

const (
	ErrConfiguration   ErrorKind = "configuration"
	ErrValidation      ErrorKind = "validation"
	ErrAuthentication  ErrorKind = "authentication"
	ErrRateLimit       ErrorKind = "rate_limit"
	ErrNotFound        ErrorKind = "not_found"
	ErrPayloadTooLarge ErrorKind = "payload_too_large"
	ErrServer          ErrorKind = "server"
	ErrSafetyBlock     ErrorKind = "safety_block"
	ErrNetwork         ErrorKind = "network"
	ErrParse           ErrorKind = "parse"
)

// Error is the normalized provider error.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	// RetryAfter is the backend's retry hint, zero when not supplied.
	// The orchestrator never retries; the hint is surfaced to callers.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// NewError builds a normalized error without an HTTP status.
func NewError(kind ErrorKind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// IsKind reports whether err is (or wraps) a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// FromStatus maps an HTTP status code from a failed backend call onto
// the taxonomy. message should be the backend's native error message
// when one could be extracted, otherwise the raw response body.
func FromStatus(provider string, status int, message string, retryAfter time.Duration) *Error {
	var kind ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuthentication
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusRequestEntityTooLarge:
		kind = ErrPayloadTooLarge
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimit
	case status >= 500:
		kind = ErrServer
	default:
		kind = ErrValidation
	}
	return &Error{
		Kind:       kind,
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NetworkError wraps a transport failure (DNS, connect, TLS, timeout).
func NetworkError(provider string, err error) *Error {
	return &Error{Kind: ErrNetwork, Provider: provider, Message: err.Error()}
}

// RetryAfterHint parses the Retry-After header in its seconds form.
// Returns zero for the HTTP-date form or when the header is absent.
func RetryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
