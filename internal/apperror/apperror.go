// Package apperror defines the error taxonomy shared by the service and
// handler layers. Services return *AppError values; handlers translate the
// wrapped sentinel into an HTTP status.
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthenticated means the caller's credentials were rejected
	// (unknown account or wrong password).
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized means the caller's token is missing, malformed or expired.
	ErrUnauthorized = errors.New("unauthorized")

	ErrRateLimited = errors.New("rate limited")
)

// AppError carries a sentinel (Err), a message that is safe to show to the
// caller, and optional detail used when rendering the response.
type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Code    string // Optional: machine-readable domain code, e.g. "email_taken"

	// RetryAfter is set on rate-limit errors.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithCode returns the error with its domain code replaced.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
		Code:    "not_found",
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Code:    "validation_error",
	}
}

// Conflict reports that a unique value (email, user name) is already claimed.
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
		Code:    "conflict",
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
		Code:    "forbidden",
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
		Code:    "unauthenticated",
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
		Code:    "unauthorized",
	}
}

// RateLimited builds a 429-class error. retryAfter is rounded up to whole
// seconds when rendered.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Err:        ErrRateLimited,
		Message:    "too many attempts, please try again later",
		Code:       "rate_limited",
		RetryAfter: retryAfter,
	}
}
