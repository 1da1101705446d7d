// Package apperr defines the pipeline error taxonomy. Every per-email
// failure maps to one of these codes and terminates as a row state; no
// analyzer error crosses the worker boundary unclassified.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Error codes
const (
	CodeTransientNetwork     = "TRANSIENT_NETWORK"
	CodeLLMTimeout           = "LLM_TIMEOUT"
	CodeParseError           = "PARSE_ERROR"
	CodeQualityGateFail      = "QUALITY_GATE_FAIL"
	CodePersistenceBusy      = "PERSISTENCE_BUSY"
	CodePersistenceIntegrity = "PERSISTENCE_INTEGRITY"
	CodeCancelled            = "CANCELLED"
	CodeFatal                = "FATAL"
)

// AppError is a structured pipeline error.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`

	// RetryAfter carries a server-provided backoff hint (HTTP 429).
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether the phase analyzers should retry the call.
func (e *AppError) Retryable() bool {
	return e.Code == CodeTransientNetwork || e.Code == CodePersistenceBusy
}

// Constructor functions
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func TransientNetwork(err error) *AppError {
	return &AppError{
		Code:    CodeTransientNetwork,
		Message: "transient network failure calling inference endpoint",
		Err:     err,
	}
}

// RateLimited is a transient network error carrying the server's
// Retry-After hint.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       CodeTransientNetwork,
		Message:    "inference endpoint rate limited the request",
		RetryAfter: retryAfter,
	}
}

func LLMTimeout(model string, timeout time.Duration) *AppError {
	return &AppError{
		Code:    CodeLLMTimeout,
		Message: fmt.Sprintf("model %s exceeded %s deadline", model, timeout),
		Details: map[string]any{"model": model},
	}
}

func ParseError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeParseError,
		Message: message,
		Err:     err,
	}
}

func QualityGateFail(gotBytes, minBytes int) *AppError {
	return &AppError{
		Code:    CodeQualityGateFail,
		Message: fmt.Sprintf("serialized result is %d bytes, minimum is %d", gotBytes, minBytes),
		Details: map[string]any{"got_bytes": gotBytes, "min_bytes": minBytes},
	}
}

func PersistenceBusy(operation string, err error) *AppError {
	return &AppError{
		Code:    CodePersistenceBusy,
		Message: fmt.Sprintf("store busy during %s", operation),
		Err:     err,
	}
}

func PersistenceIntegrity(operation string, err error) *AppError {
	return &AppError{
		Code:    CodePersistenceIntegrity,
		Message: fmt.Sprintf("store integrity violation during %s", operation),
		Err:     err,
	}
}

func Cancelled(operation string) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Message: fmt.Sprintf("cancelled during %s", operation),
	}
}

func Fatal(message string, err error) *AppError {
	return &AppError{Code: CodeFatal, Message: message, Err: err}
}

// Helper functions
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeFatal, "unclassified error")
}

func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable()
}
