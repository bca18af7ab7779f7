package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeType          = "TYPE_ERROR"
	ErrCodeGraph         = "GRAPH_ERROR"
	ErrCodeEvaluation    = "EVALUATION_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
)

// ScanError is the structured error type for graph construction and evaluation.
// Index, when non-negative, locates the offending entry in the user's argument
// list (a sequence, an output or a non-sequence, depending on Details["arg"]).
type ScanError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Index   int            `json:"index"`
	Cause   error          `json:"-"`
}

func (e *ScanError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("[%s] index %d: %s", e.Code, e.Index, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ScanError.
func NewError(code, message string) *ScanError {
	return &ScanError{Code: code, Message: message, Index: -1}
}

// NewErrorf creates a new ScanError with a formatted message.
func NewErrorf(code, format string, args ...any) *ScanError {
	return &ScanError{Code: code, Message: fmt.Sprintf(format, args...), Index: -1}
}

// WithIndex attaches the position of the offending argument.
func (e *ScanError) WithIndex(i int) *ScanError {
	e.Index = i
	return e
}

// WithCause attaches an underlying cause.
func (e *ScanError) WithCause(err error) *ScanError {
	e.Cause = err
	return e
}

// WithDetails merges key-value details into the error.
func (e *ScanError) WithDetails(details map[string]any) *ScanError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsCode reports whether err (or anything it wraps) is a ScanError with the given code.
func IsCode(err error, code string) bool {
	var se *ScanError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == code
}
