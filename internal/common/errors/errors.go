// Package errors provides standardized error handling for the real-time client core.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Connectivity failures recovered locally; never surfaced to callers.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"

	// Recovered via one bounded backoff retry; propagated if it recurs.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Surfaced to the caller; invalidates the local session token.
	ErrCodeAuthRejected ErrorCode = "AUTH_REJECTED"

	// Other 4xx/5xx responses, propagated unchanged.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Notification dispatch failure; swallowed and aggregated into the
	// combined user-facing message.
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	// A transition for the same entity is already in flight.
	ErrCodeTransitionInFlight ErrorCode = "TRANSITION_IN_FLIGHT"

	// The requested status change is not in the allowed transition set.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// RateLimitError is returned when the API responds with HTTP 429 twice in a
// row. It carries an optional RetryAfter duration parsed from the server hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// NewTransportError creates a retryable connectivity error.
func NewTransportError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransport,
		Message:   "Network transport failure",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthRejectedError creates a non-retryable authentication error.
func NewAuthRejectedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthRejected,
		Message:   "Authentication rejected",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable error for a 4xx/5xx response.
func NewValidationError(status int, body string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   fmt.Sprintf("Request rejected with status %d", status),
		Details:   body,
		Retryable: false,
		Metadata:  map[string]interface{}{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable business rule error.
func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Status transition not allowed",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsAuthRejected reports whether err is an authentication rejection.
func IsAuthRejected(err error) bool {
	return CodeOf(err) == ErrCodeAuthRejected
}

// IsTransport reports whether err is a connectivity failure.
func IsTransport(err error) bool {
	return CodeOf(err) == ErrCodeTransport
}

// IsRateLimited reports whether err is a propagated rate limit rejection.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return stderrors.As(err, &rl)
}
