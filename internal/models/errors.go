package models

import (
	"errors"
	"fmt"
	"time"
)

type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryExternal   ErrorCategory = "external"
	CategoryInternal   ErrorCategory = "internal"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryRateLimit  ErrorCategory = "rate_limited"
	CategoryQuota      ErrorCategory = "quota_exceeded"
	CategoryWorkflow   ErrorCategory = "workflow_failed"
)

// AppError is the error type crossing service boundaries. Collaborator
// failures are converted to AppError at the service that made the call;
// everything above only inspects Category and Retryable.
type AppError struct {
	Category   ErrorCategory
	Code       string
	Message    string
	Cause      error
	Metadata   map[string]interface{}
	Retryable  bool
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Category, e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Category: CategoryValidation, Code: code, Message: message}
}

func NewExternalError(code, message string) *AppError {
	return &AppError{Category: CategoryExternal, Code: code, Message: message, Retryable: true}
}

func NewInternalError(code, message string) *AppError {
	return &AppError{Category: CategoryInternal, Code: code, Message: message}
}

func NewTimeoutError(code, message string) *AppError {
	return &AppError{Category: CategoryTimeout, Code: code, Message: message, Retryable: true}
}

func NewRateLimitError(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Category:   CategoryRateLimit,
		Code:       "RATE_LIMITED",
		Message:    message,
		RetryAfter: retryAfter,
	}
}

func NewQuotaError(message string) *AppError {
	return &AppError{Category: CategoryQuota, Code: "QUOTA_EXCEEDED", Message: message}
}

func NewWorkflowError(code, message string) *AppError {
	return &AppError{Category: CategoryWorkflow, Code: code, Message: message}
}

func WrapExternalError(service string, err error) *AppError {
	return &AppError{
		Category:  CategoryExternal,
		Code:      service + "_ERROR",
		Message:   fmt.Sprintf("%s call failed", service),
		Cause:     err,
		Retryable: true,
	}
}

var (
	ErrRunNotFound = &AppError{Category: CategoryInternal, Code: "RUN_NOT_FOUND", Message: "workflow run not found"}
	ErrJobNotFound = &AppError{Category: CategoryValidation, Code: "JOB_NOT_FOUND", Message: "job not found"}
)

// AsAppError unwraps err to an *AppError, converting foreign errors to a
// non-retryable internal error so callers always have a category to route on.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("UNCLASSIFIED", err.Error()).WithCause(err)
}

func IsRetryable(err error) bool {
	appErr := AsAppError(err)
	return appErr != nil && appErr.Retryable
}
