package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable code sent to API clients.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError carries an HTTP status and optional details alongside its cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Details    map[string]any
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

// WithDetail attaches a key/value pair returned to the client.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func InvalidInput(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NotFound(err error) *AppError {
	return Wrap(err, ErrCodeNotFound, "resource not found", http.StatusNotFound)
}

func Unauthorized(err error) *AppError {
	return Wrap(err, ErrCodeUnauthorized, "authentication required", http.StatusUnauthorized)
}

func Forbidden(err error) *AppError {
	return Wrap(err, ErrCodeForbidden, "insufficient permissions", http.StatusForbidden)
}

func Conflict(err error) *AppError {
	return Wrap(err, ErrCodeConflict, "conflict", http.StatusConflict)
}

func RateLimited() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func Internal(err error) *AppError {
	return Wrap(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

func ServiceUnavailable(err error) *AppError {
	return Wrap(err, ErrCodeServiceUnavailable, "service unavailable", http.StatusServiceUnavailable)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
