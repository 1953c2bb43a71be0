package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the stable error classification surfaced to clients.
type Kind string

const (
	KindUnauthenticated       Kind = "Unauthenticated"
	KindInvalidCredentials    Kind = "InvalidCredentials"
	KindAccountDisabled       Kind = "AccountDisabled"
	KindInsufficientTier      Kind = "InsufficientTier"
	KindFeatureNotAvailable   Kind = "FeatureNotAvailable"
	KindRateLimited           Kind = "RateLimited"
	KindQuotaExceeded         Kind = "QuotaExceeded"
	KindNotFound              Kind = "NotFound"
	KindAlreadyExists         Kind = "AlreadyExists"
	KindConflict              Kind = "Conflict"
	KindTooLarge              Kind = "TooLarge"
	KindUnsupportedType       Kind = "UnsupportedType"
	KindMalformedRequest      Kind = "MalformedRequest"
	KindIntegrityError        Kind = "IntegrityError"
	KindDependencyUnavailable Kind = "DependencyUnavailable"
	KindDeadlineExceeded      Kind = "DeadlineExceeded"
	KindInternal              Kind = "Internal"
)

// AppError is a structured application error carrying a stable kind,
// an HTTP status, a retryable flag, and a correlation id that is also
// written to audit and metric records.
type AppError struct {
	Kind          Kind                   `json:"error"`
	Message       string                 `json:"message"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
	Cause         error                  `json:"-"`
	Retryable     bool                   `json:"-"`
	StatusCode    int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, message string, status int, retryable bool) *AppError {
	return &AppError{
		Kind:          kind,
		Message:       message,
		CorrelationID: uuid.NewString(),
		Retryable:     retryable,
		StatusCode:    status,
	}
}

// Authentication errors.

func NewUnauthenticatedError(message string) *AppError {
	return newError(KindUnauthenticated, message, 401, false)
}

func NewInvalidCredentialsError() *AppError {
	// Deliberately does not say which of email or password was wrong.
	return newError(KindInvalidCredentials, "invalid credentials", 401, false)
}

func NewAccountDisabledError() *AppError {
	return newError(KindAccountDisabled, "account is disabled", 403, false)
}

// Authorization and metering errors.

func NewInsufficientTierError(required string) *AppError {
	return newError(KindInsufficientTier, "subscription tier does not permit this operation", 403, false).
		WithDetail("required_tier", required)
}

func NewFeatureNotAvailableError(feature string) *AppError {
	return newError(KindFeatureNotAvailable, "feature is not available on this tier", 403, false).
		WithDetail("feature", feature)
}

func NewRateLimitedError(retryAfterSeconds int) *AppError {
	return newError(KindRateLimited, "rate limit exceeded", 429, true).
		WithDetail("retry_after_seconds", retryAfterSeconds)
}

func NewQuotaExceededError(counter string, resetAt string) *AppError {
	return newError(KindQuotaExceeded, "monthly quota exceeded", 429, false).
		WithDetail("counter", counter).
		WithDetail("reset_at", resetAt)
}

// Resource lifecycle errors.

func NewNotFoundError(resource string) *AppError {
	return newError(KindNotFound, fmt.Sprintf("%s not found", resource), 404, false)
}

func NewAlreadyExistsError(resource string) *AppError {
	return newError(KindAlreadyExists, fmt.Sprintf("%s already exists", resource), 409, false)
}

func NewConflictError(message string) *AppError {
	return newError(KindConflict, message, 409, false)
}

// Input validation errors.

func NewTooLargeError(limitBytes int64) *AppError {
	return newError(KindTooLarge, "upload exceeds the maximum size for this tier", 413, false).
		WithDetail("max_bytes", limitBytes)
}

func NewUnsupportedTypeError(mimeType string) *AppError {
	return newError(KindUnsupportedType, "content type is not accepted", 415, false).
		WithDetail("mime_type", mimeType)
}

func NewMalformedRequestError(message string) *AppError {
	return newError(KindMalformedRequest, message, 400, false)
}

// Integrity, dependency, and internal errors.

func NewIntegrityError(message string) *AppError {
	// Never retried, always audited by the caller.
	return newError(KindIntegrityError, message, 500, false)
}

func NewDependencyUnavailableError(dependency string) *AppError {
	return newError(KindDependencyUnavailable, fmt.Sprintf("%s is unavailable", dependency), 503, true).
		WithDetail("dependency", dependency)
}

func NewDeadlineExceededError(operation string) *AppError {
	return newError(KindDeadlineExceeded, fmt.Sprintf("%s exceeded its deadline", operation), 504, false)
}

func NewInternalError(message string) *AppError {
	return newError(KindInternal, message, 500, false)
}

// KindOf extracts the kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// StatusCode extracts the HTTP status from an error chain.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}

// CorrelationID extracts the correlation id, or "" when absent.
func CorrelationID(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CorrelationID
	}
	return ""
}

// Wrap wraps an error with a message using fmt.Errorf with %w.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
