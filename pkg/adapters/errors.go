package adapters

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an adapter failure. The kind determines whether the
// orchestrator retries the request on another provider and whether the
// failure counts against the provider's circuit breaker.
type ErrorKind string

const (
	// KindTimeout indicates the backend exceeded the wall-clock deadline.
	KindTimeout ErrorKind = "timeout"

	// KindTransport indicates a network or process transport failure.
	KindTransport ErrorKind = "transport"

	// KindBadOutput indicates the backend produced unparsable output.
	KindBadOutput ErrorKind = "bad_output"

	// KindProcessExit indicates a spawned process exited non-zero.
	KindProcessExit ErrorKind = "process_exit"

	// KindAuth indicates the backend rejected the configured credentials.
	KindAuth ErrorKind = "auth"

	// KindRateLimit indicates the backend rate limited the request.
	KindRateLimit ErrorKind = "rate_limit"

	// KindInvalidRequest indicates the request shape was rejected.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindCapability indicates the adapter or model does not support the
	// requested operation.
	KindCapability ErrorKind = "capability"

	// KindCanceled indicates the caller canceled the request.
	KindCanceled ErrorKind = "canceled"
)

// AdapterError is the single error type adapters surface to the
// orchestrator. Retryable failures advance the fallback sequence and count
// against the originating provider's breaker; terminal failures abort it.
type AdapterError struct {
	// Kind classifies the failure
	Kind ErrorKind

	// Provider is the slug of the provider that failed
	Provider string

	// Message is a human-readable description, safe to log
	Message string

	// Retryable reports whether another provider may be attempted
	Retryable bool

	// RetryAfter is the backend's requested backoff, for rate limits
	RetryAfter time.Duration

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	return fmt.Sprintf("provider %q %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// NewTimeoutError builds a retryable timeout failure.
func NewTimeoutError(provider string, timeout time.Duration) *AdapterError {
	return &AdapterError{
		Kind:      KindTimeout,
		Provider:  provider,
		Message:   fmt.Sprintf("request exceeded %s deadline", timeout),
		Retryable: true,
	}
}

// NewTransportError builds a retryable transport failure.
func NewTransportError(provider string, cause error) *AdapterError {
	return &AdapterError{
		Kind:      KindTransport,
		Provider:  provider,
		Message:   "transport failure",
		Retryable: true,
		Cause:     cause,
	}
}

// NewBadOutputError builds a retryable malformed-output failure.
func NewBadOutputError(provider string, cause error) *AdapterError {
	return &AdapterError{
		Kind:      KindBadOutput,
		Provider:  provider,
		Message:   "backend produced malformed output",
		Retryable: true,
		Cause:     cause,
	}
}

// NewCapabilityError builds a terminal unsupported-operation failure.
func NewCapabilityError(provider, operation string) *AdapterError {
	return &AdapterError{
		Kind:      KindCapability,
		Provider:  provider,
		Message:   fmt.Sprintf("operation %q not supported", operation),
		Retryable: false,
	}
}

// IsRetryable reports whether err allows the orchestrator to move on to the
// next fallback candidate. Unknown error types are treated as retryable
// transport-level failures.
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return true
}

// KindOf returns the classification of err, or KindTransport when err is
// not an AdapterError.
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransport
}

// CountsAgainstBreaker reports whether err is attributable to the provider
// and should increment its breaker failure count. Request-shape errors,
// capability errors, and rate limits never do.
func CountsAgainstBreaker(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransport, KindBadOutput, KindProcessExit:
		return true
	default:
		return false
	}
}
