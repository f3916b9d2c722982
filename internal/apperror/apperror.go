// Package apperror defines the error taxonomy shared by the remote store
// service and the synchronization client.
//
// Every typed error is an *AppError wrapping one of the sentinel values below,
// so callers branch with errors.Is and read the human message with errors.As.
//
//	ErrNetwork     → transient, retried by the resilience wrapper
//	ErrAuth        → invalid credentials, missing or expired session
//	ErrValidation  → bad input, rejected before any remote call
//	ErrNotFound    → referenced poem/comment is absent
//	ErrConflict    → write collides with existing state
//	ErrForbidden   → authenticated, but not allowed
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrAuth       = errors.New("authentication error")
	ErrNetwork    = errors.New("network error")

	// ErrFeatureLimit is matched in addition to ErrValidation by
	// FeatureLimitExceeded, so callers can single it out.
	ErrFeatureLimit = errors.New("feature limit exceeded")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Code    string // Optional: machine-readable detail, e.g. "invalid_credentials"
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets a feature-limit error match both ErrValidation (its category) and
// ErrFeatureLimit (its specific kind).
func (e *AppError) Is(target error) bool {
	return target == ErrFeatureLimit && e.Code == CodeFeatureLimit
}

const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnauthenticated    = "unauthenticated"
	CodeEmptyContent       = "empty_content"
	CodeFeatureLimit       = "feature_limit_exceeded"
)

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// EmptyContent is returned when a comment body is blank after trimming.
func EmptyContent() *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: "comment content must not be empty",
		Field:   "content",
		Code:    CodeEmptyContent,
	}
}

// FeatureLimitExceeded is returned when featuring one more poem would push
// the featured set past its cap.
func FeatureLimitExceeded(limit int) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("at most %d poems can be featured", limit),
		Field:   "is_featured",
		Code:    CodeFeatureLimit,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// InvalidCredentials is returned by sign-in when the email/password pair is rejected.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrAuth,
		Message: "invalid email or password",
		Code:    CodeInvalidCredentials,
	}
}

// Unauthenticated is returned when an operation needs a session and there is none.
func Unauthenticated(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Err:     ErrAuth,
		Message: message,
		Code:    CodeUnauthenticated,
	}
}

// Network wraps a transport-level failure so it is treated as transient.
func Network(op string, err error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrNetwork, err),
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}

// Retryable reports whether err may succeed if the same call is repeated.
// Network errors and untyped errors are retryable; every other AppError
// (auth, validation, not found, conflict, forbidden) is permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var appErr *AppError
	return !errors.As(err, &appErr)
}
