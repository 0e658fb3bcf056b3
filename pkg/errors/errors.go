package errors

import (
	"errors"
	"fmt"
)

// Error codes shared by every package that surfaces an AppError. Packages
// that need a narrower vocabulary (see pkg/broker/brokererr) define their own
// Code* constants and build on New/Wrap the same way.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL"
	CodeInvalidArgument = "INVALID_ARGUMENT"
)

// AppError is the structured error type used across package boundaries. It
// carries a stable Code for programmatic matching, a human message, and an
// optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError with an explicit code. cause may be nil.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches message to err under CodeInternal, preserving err as the
// cause. If err is already an *AppError its code is preserved instead.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var existing *AppError
	if errors.As(err, &existing) {
		return &AppError{Code: existing.Code, Message: message, Cause: err}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

// NotFound builds an AppError with CodeNotFound.
func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

// Conflict builds an AppError with CodeConflict.
func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

// Forbidden builds an AppError with CodeForbidden.
func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

// Internal builds an AppError with CodeInternal.
func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

// InvalidArgument builds an AppError with CodeInvalidArgument.
func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

// As is a thin re-export of the standard library's errors.As so callers only
// need to import this package when matching AppError codes.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a thin re-export of the standard library's errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// CodeOf extracts the Code of err if it is (or wraps) an AppError, and ""
// otherwise.
func CodeOf(err error) string {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return ""
}
