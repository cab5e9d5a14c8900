// Package errors defines the application error type shared by services and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError; the HTTP layer maps it to a status code.
type ErrorCode string

// Error codes.
const (
	ErrCodeNotFound   ErrorCode = "not_found"
	ErrCodeConflict   ErrorCode = "conflict"
	ErrCodeValidation ErrorCode = "validation"
	ErrCodeForeignKey ErrorCode = "foreign_key"
	ErrCodeInternal   ErrorCode = "internal"
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeCanceled   ErrorCode = "canceled"
)

// AppError carries a code and a client-safe message. Cause is kept for logs and
// errors.Is/As but is never the message shown to callers on its own.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field names the offending input for validation errors.
	Field string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error { return e.Cause }

// New returns an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotFound returns a not_found error.
func NotFound(message string) *AppError { return New(ErrCodeNotFound, message) }

// NotFoundf is NotFound with a format string.
func NotFoundf(format string, args ...any) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns a conflict error.
func Conflict(message string) *AppError { return New(ErrCodeConflict, message) }

// Validation returns a validation error.
func Validation(message string) *AppError { return New(ErrCodeValidation, message) }

// ValidationField returns a validation error pinned to one input field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Wrap attaches a code and message to err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// GetCode returns the code of the first AppError in err's chain, or "".
func GetCode(err error) ErrorCode {
	if appErr, ok := asAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field of the first AppError in err's chain, or "".
func GetField(err error) string {
	if appErr, ok := asAppError(err); ok {
		return appErr.Field
	}
	return ""
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool { return GetCode(err) == ErrCodeNotFound }

// IsConflict reports whether err carries ErrCodeConflict.
func IsConflict(err error) bool { return GetCode(err) == ErrCodeConflict }

// IsValidation reports whether err carries ErrCodeValidation.
func IsValidation(err error) bool { return GetCode(err) == ErrCodeValidation }

// IsTimeout reports whether err carries ErrCodeTimeout.
func IsTimeout(err error) bool { return GetCode(err) == ErrCodeTimeout }

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
