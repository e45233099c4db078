package errors

import (
	"fmt"
	"net/http"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Status      int
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		Status:      http.StatusBadRequest,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:        "E110",
		Message:     fmt.Sprintf("%s not found", resource),
		UserMessage: fmt.Sprintf("%s not found", resource),
		Severity:    SeverityLow,
		Status:      http.StatusNotFound,
	}
}

func NewConflictError(resource string) *AppError {
	return &AppError{
		Code:        "E120",
		Message:     fmt.Sprintf("%s already exists", resource),
		UserMessage: fmt.Sprintf("%s already exists", resource),
		Severity:    SeverityLow,
		Status:      http.StatusConflict,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Internal server error",
		Severity:    SeverityHigh,
		Status:      http.StatusInternalServerError,
		cause:       cause,
	}
}

func NewStoreError(op string, cause error) *AppError {
	return &AppError{
		Code:        "E300",
		Message:     fmt.Sprintf("Counter store error during %s", op),
		UserMessage: "Internal server error",
		Severity:    SeverityMedium,
		Status:      http.StatusInternalServerError,
		cause:       cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        "E500",
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
		Severity:    SeverityLow,
		Status:      http.StatusTooManyRequests,
	}
}
