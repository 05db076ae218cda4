package domain

import (
	"errors"
	"fmt"
)

// The forwarder classifies every failed attempt into one of a closed set
// of error kinds. Decision points match with errors.As / errors.Is rather
// than sniffing strings.

// MaxErrorBodyBytes bounds how much of an upstream error body is carried
// in an UpstreamStatusError and surfaced downstream.
const MaxErrorBodyBytes = 200

// NoEndpointError reports that a pool had no dispatchable endpoint: it is
// empty, or every member is parked or inside its min-interval window.
type NoEndpointError struct {
	Pool PoolType
}

func (e *NoEndpointError) Error() string {
	return fmt.Sprintf("no endpoint available in pool %s", e.Pool)
}

// TransportError wraps a network-level failure (connect refused, reset,
// timeout). Always retryable.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// UpstreamStatusError carries a non-2xx upstream response. Body is
// truncated to MaxErrorBodyBytes.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

// NewUpstreamStatusError truncates the body fragment on construction so
// callers never carry a full error payload around.
func NewUpstreamStatusError(status int, body []byte) *UpstreamStatusError {
	if len(body) > MaxErrorBodyBytes {
		body = body[:MaxErrorBodyBytes]
	}
	return &UpstreamStatusError{StatusCode: status, Body: string(body)}
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status warrants another attempt. Other
// 4xx are client errors and must be surfaced verbatim, never masked by
// failover.
func (e *UpstreamStatusError) Retryable() bool {
	return RetryableStatus(e.StatusCode)
}

// RetryableStatus is the closed set of upstream statuses worth retrying.
func RetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StreamInterruptedError marks a failure after at least one body byte was
// already forwarded downstream. Failover cannot recover it; the stream is
// terminated with an in-band error event instead.
type StreamInterruptedError struct {
	Cause error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Cause)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Cause }

// IsRetryable reports whether an attempt failure may be retried on the
// same endpoint and failed over across endpoints.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *UpstreamStatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// IsTerminal reports whether a failure must stop the whole logical
// request and be surfaced verbatim (non-retryable upstream status).
func IsTerminal(err error) bool {
	var se *UpstreamStatusError
	if errors.As(err, &se) {
		return !se.Retryable()
	}
	return false
}

// ErrorKind names the error class carried in downstream error bodies.
func ErrorKind(err error) string {
	var ne *NoEndpointError
	if errors.As(err, &ne) {
		return "no_endpoint_available"
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "upstream_transport_error"
	}
	var se *UpstreamStatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return "upstream_retryable_error"
		}
		return "upstream_error"
	}
	var ie *StreamInterruptedError
	if errors.As(err, &ie) {
		return "upstream_error"
	}
	return "unexpected_error"
}
