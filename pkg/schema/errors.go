package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeBusy              = "BUSY"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeUnknownStep       = "UNKNOWN_STEP"
	ErrCodeUnsupportedStep   = "UNSUPPORTED_STEP"
	ErrCodeNoMatchingBranch  = "NO_MATCHING_BRANCH"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
)

// BrowgentError is the structured error type for all engine operations.
type BrowgentError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BrowgentError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BrowgentError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BrowgentError.
func NewError(code, message string) *BrowgentError {
	return &BrowgentError{Code: code, Message: message}
}

// NewErrorf creates a new BrowgentError with a formatted message.
func NewErrorf(code, format string, args ...any) *BrowgentError {
	return &BrowgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *BrowgentError) WithStep(stepID string) *BrowgentError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *BrowgentError) WithCause(err error) *BrowgentError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BrowgentError) WithDetails(details map[string]any) *BrowgentError {
	e.Details = details
	return e
}

// ErrorCode returns the code of the first BrowgentError in err's chain, or "".
func ErrorCode(err error) string {
	var be *BrowgentError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
