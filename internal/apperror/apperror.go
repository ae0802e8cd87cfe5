// Package apperror formalizes the stable error-code envelope used across the
// HTTP adapter layer into a single typed error instead of ad-hoc maps.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the stable uppercase error codes surfaced to API callers.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeForbidden          Code = "FORBIDDEN"
	CodeTimeout            Code = "TIMEOUT"
	CodeExhausted          Code = "EXHAUSTED"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeForbidden:          http.StatusForbidden,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeExhausted:          http.StatusServiceUnavailable,
	CodeStorageUnavailable: http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// AppError is the typed error carried through every layer of the service and
// translated 1:1 into the ApiResponse.error envelope at the HTTP boundary.
type AppError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// HTTPStatus returns the status code the HTTP adapter layer should respond with.
func (e *AppError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, cause: cause}
}

func WithDetails(err *AppError, details map[string]interface{}) *AppError {
	cp := *err
	cp.Details = details
	return &cp
}

func Validation(format string, args ...interface{}) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *AppError {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *AppError {
	return New(CodeConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...interface{}) *AppError {
	return New(CodeForbidden, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...interface{}) *AppError {
	return New(CodeTimeout, fmt.Sprintf(format, args...))
}

func Exhausted(format string, args ...interface{}) *AppError {
	return New(CodeExhausted, fmt.Sprintf(format, args...))
}

func StorageUnavailable(err error) *AppError {
	return Wrap(CodeStorageUnavailable, "durable write failed", err)
}

func Internal(err error) *AppError {
	return Wrap(CodeInternal, "internal error", err)
}

// As extracts an *AppError from err, falling back to CodeInternal when err
// was not produced by this package.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
