package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these constants instead of
// hardcoded strings so the error class (transient, data, exhaustion,
// circuit-open) can be derived reliably.
const (
	// Data errors: isolated per record, logged, never abort a batch.
	ErrCodeInvalidTimezone  ErrorCode = "validation_invalid_timezone"
	ErrCodeUnknownEventType ErrorCode = "validation_unknown_event_type"
	ErrCodeMissingField     ErrorCode = "validation_missing_required_field"

	// Auth errors on the ops surface.
	ErrCodeAuthInvalidKey ErrorCode = "auth_invalid_key"

	// Not found / conflict.
	ErrCodeNotFoundRecord     ErrorCode = "not_found_message_record"
	ErrCodeNotFoundUser       ErrorCode = "not_found_user"
	ErrCodeConflictTransition ErrorCode = "conflict_status_transition"

	// Transient infrastructure errors: retried with backoff.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeQueuePublish       ErrorCode = "queue_publish_failed"
	ErrCodeUpstreamProvider   ErrorCode = "upstream_provider_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"

	// Circuit-open: short-circuited without calling the provider.
	ErrCodeCircuitOpen ErrorCode = "upstream_circuit_open"

	// Exhaustion: terminal, surfaced through health/metrics only.
	ErrCodeRetryExhausted ErrorCode = "retry_exhausted"

	// Terminal provider rejection (e.g. invalid destination, HTTP 4xx).
	ErrCodeProviderRejected ErrorCode = "provider_rejected"
)

// Retryable reports whether an error carrying this code should be retried
// by the owning job or worker. Data errors and terminal rejections are not
// retryable; infrastructure and circuit-open errors are.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeInternalDB, ErrCodeInternalUnexpected, ErrCodeQueuePublish,
		ErrCodeUpstreamProvider, ErrCodeUpstreamRateLimit, ErrCodeCircuitOpen:
		return true
	}
	return false
}

// AppError is the standard application error type used throughout the
// pipeline. All domain errors should be expressed as AppError to enable
// consistent classification and error chain support.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err's chain, or
// ErrCodeInternalUnexpected when err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsRetryable reports whether err should be retried, walking the error
// chain for an AppError classification. Unknown errors default to
// retryable so infrastructure hiccups are not silently dropped.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Retryable()
	}
	return true
}
