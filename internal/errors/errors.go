// Package errors defines the service error taxonomy shared by the storage,
// service and HTTP layers. Handlers map ServiceError codes to HTTP statuses
// instead of inspecting error messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a category of failure.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeInternal     ErrorCode = "INTERNAL"
)

// ServiceError is the structured error carried across layers.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Validation reports invalid input.
func Validation(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Code:       CodeValidation,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound reports a missing entity.
func NotFound(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict reports a uniqueness or state-transition violation.
func Conflict(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Code:       CodeConflict,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusConflict,
	}
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InvalidToken reports a failed token validation.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    "invalid token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// RateLimitExceeded reports a throttled request.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return (&ServiceError{
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}).WithDetails("limit", limit).WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetServiceError unwraps err to a *ServiceError, or nil when err carries none.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodeNotFound
}

// IsConflict reports whether err carries the conflict code.
func IsConflict(err error) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodeConflict
}

// IsValidation reports whether err carries the validation code.
func IsValidation(err error) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodeValidation
}
