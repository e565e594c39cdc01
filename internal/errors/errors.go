// Package errors provides a structured, typed error shared by every layer
// of the gateway. Handlers translate an *AppError into the HTTP envelope
// from spec §7; everything lower down only needs to construct one.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	ErrCodeAuthRejected     ErrorCode = "AUTH_REJECTED"
	ErrCodeKeyNotRegistered ErrorCode = "KEY_NOT_REGISTERED"
	ErrCodeApiKeyNotFound   ErrorCode = "API_KEY_NOT_FOUND"
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionLoggedOut ErrorCode = "SESSION_LOGGED_OUT"
	ErrCodeSessionLocked    ErrorCode = "SESSION_LOCKED"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeKeyExhaustion    ErrorCode = "KEY_EXHAUSTION"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors, one per spec §7 error kind.

func AuthRejected() *AppError {
	return New(ErrCodeAuthRejected, "Invalid secret key")
}

func KeyNotRegistered() *AppError {
	return New(ErrCodeKeyNotRegistered, "API key not registered")
}

func SessionNotFound() *AppError {
	return New(ErrCodeSessionNotFound, "Whatsapp session not found")
}

func ApiKeyNotFound() *AppError {
	return New(ErrCodeApiKeyNotFound, "API key not found")
}

func SessionLoggedOut() *AppError {
	return New(ErrCodeSessionLoggedOut, "Session is logged out")
}

// SessionLocked reports that another process instance holds the lease.
// ownerID is surfaced in Details so the caller can route by stickiness.
func SessionLocked(ownerID string) *AppError {
	return New(ErrCodeSessionLocked, fmt.Sprintf("Session is handled by another instance (%s)", ownerID)).
		WithDetails(map[string]string{"owner": ownerID})
}

func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "Session not connected")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func KeyExhaustion() *AppError {
	return New(ErrCodeKeyExhaustion, "Unable to generate API key, please retry")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeInternal, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
