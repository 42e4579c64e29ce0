package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing the engine boundary.
type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "invalid_input"
	KindDataUnavailable  ErrorKind = "data_unavailable"
	KindComputationError ErrorKind = "computation_error"
	KindNotFound         ErrorKind = "not_found"
)

// Sentinel causes carried by ValidationError. Match them with errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidTerm   = errors.New("invalid term")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidRate   = errors.New("invalid rate")
)

// ValidationError represents malformed or out-of-range input. Nothing is
// computed once one is raised.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap exposes the sentinel cause, defaulting to ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	if e.Cause == nil {
		return ErrInvalidInput
	}
	return e.Cause
}

// Is lets every validation error match ErrInvalidInput as well as its own cause.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Kind returns KindInvalidInput
func (e *ValidationError) Kind() ErrorKind {
	return KindInvalidInput
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field string, value interface{}, cause error, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   fmt.Sprint(value),
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// DataUnavailableError reports that an external source has no data for a key.
type DataUnavailableError struct {
	Source    string
	Key       string
	Transient bool
	Err       error
}

func (e *DataUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: no data for %s: %v", e.Source, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: no data for %s", e.Source, e.Key)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// Kind returns KindDataUnavailable
func (e *DataUnavailableError) Kind() ErrorKind {
	return KindDataUnavailable
}

// IsTransient is true for timeouts and upstream outages
func (e *DataUnavailableError) IsTransient() bool {
	return e.Transient
}

// ComputationError is an internal invariant violation. It is a defect and is
// never corrected silently.
type ComputationError struct {
	Stage   string
	Message string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Kind returns KindComputationError
func (e *ComputationError) Kind() ErrorKind {
	return KindComputationError
}

// IsTransient returns false; re-running the same input reproduces it
func (e *ComputationError) IsTransient() bool {
	return false
}

// NotFoundError represents a stored resource that does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Kind returns KindNotFound
func (e *NotFoundError) Kind() ErrorKind {
	return KindNotFound
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

// KindOf walks the error chain and returns the first classified kind. Errors
// that carry no kind are reported as computation errors.
func KindOf(err error) ErrorKind {
	var classified interface{ Kind() ErrorKind }
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	return KindComputationError
}
