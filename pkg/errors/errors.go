package errors

import (
	"errors"
	"net/http"
)

// Standard error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrValidation        = errors.New("validation error")
	ErrUpstream          = errors.New("upstream failure")
	ErrTimeout           = errors.New("timeout")
	ErrRateLimited       = errors.New("rate limited")
	ErrInternal          = errors.New("internal server error")
)

// Code is the stable, machine-readable name of an error class
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeVersionConflict   Code = "VERSION_CONFLICT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUpstream          Code = "UPSTREAM_FAILURE"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL"
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	Code       Code
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, code Code, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// From classifies any error into an AppError. Unknown errors become internal errors.
func From(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return NewNotFoundError(err.Error())
	case errors.Is(err, ErrVersionConflict):
		return NewVersionConflictError(err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return NewInvalidTransitionError(err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return NewInsufficientFundsError(err.Error())
	case errors.Is(err, ErrValidation):
		return NewValidationError(err.Error())
	case errors.Is(err, ErrUnauthorized):
		return NewUnauthorizedError(err.Error())
	case errors.Is(err, ErrForbidden):
		return NewForbiddenError(err.Error())
	case errors.Is(err, ErrTimeout):
		return NewTimeoutError(err.Error())
	case errors.Is(err, ErrUpstream):
		return NewUpstreamError(err.Error())
	case errors.Is(err, ErrRateLimited):
		return NewRateLimitedError(err.Error())
	}

	return NewAppError(err, CodeInternal, err.Error(), http.StatusInternalServerError, false)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, CodeNotFound, message, http.StatusNotFound, false)
}

// NewVersionConflictError creates a version conflict error; callers reload and retry
func NewVersionConflictError(message string) *AppError {
	return NewAppError(ErrVersionConflict, CodeVersionConflict, message, http.StatusConflict, true)
}

// NewInvalidTransitionError creates an invalid transition error
func NewInvalidTransitionError(message string) *AppError {
	return NewAppError(ErrInvalidTransition, CodeInvalidTransition, message, http.StatusUnprocessableEntity, false)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrUnauthorized, CodeUnauthorized, message, http.StatusUnauthorized, false)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrForbidden, CodeForbidden, message, http.StatusForbidden, false)
}

// NewInsufficientFundsError creates an insufficient funds error
func NewInsufficientFundsError(message string) *AppError {
	return NewAppError(ErrInsufficientFunds, CodeInsufficientFunds, message, http.StatusPaymentRequired, false)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrValidation, CodeValidation, message, http.StatusBadRequest, false)
}

// NewUpstreamError creates an upstream failure error
func NewUpstreamError(message string) *AppError {
	return NewAppError(ErrUpstream, CodeUpstream, message, http.StatusBadGateway, true)
}

// NewTimeoutError creates a timeout error. It is reported as an upstream failure.
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrTimeout, CodeUpstream, message, http.StatusGatewayTimeout, true)
}

// NewRateLimitedError creates a rate limited error
func NewRateLimitedError(message string) *AppError {
	return NewAppError(ErrRateLimited, CodeRateLimited, message, http.StatusTooManyRequests, true)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, CodeInternal, message, http.StatusInternalServerError, false)
}
