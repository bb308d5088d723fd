package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var errorHelpersLog = logger.New("workflow:error_helpers")

// Sentinel causes carried by validation errors; test with errors.Is.
var (
	ErrNoTriggers       = errors.New("workflow has no triggers")
	ErrNoJobs           = errors.New("workflow has no jobs")
	ErrInvalidJobID     = errors.New("invalid job ID")
	ErrDuplicateJob     = errors.New("duplicate job ID")
	ErrNoSteps          = errors.New("job has no steps")
	ErrInvalidStep      = errors.New("invalid step")
	ErrInvalidEvent     = errors.New("invalid event filter")
	ErrInvalidMatrix    = errors.New("invalid matrix")
	ErrUnknownAxis      = errors.New("unknown matrix axis")
	ErrUnreachableStep  = errors.New("step condition never matches")
	ErrInvalidToolchain = errors.New("invalid toolchain")
)

// WorkflowValidationError describes one policy violation.
type WorkflowValidationError struct {
	Field      string
	Value      string
	Reason     string
	Suggestion string
	Err        error
}

// Error implements the error interface
func (e *WorkflowValidationError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "validation failed for field '%s'", e.Field)
	if e.Value != "" {
		value := e.Value
		if len(value) > 100 {
			value = value[:97] + "..."
		}
		fmt.Fprintf(&b, " (value: %s)", value)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, ". %s", e.Suggestion)
	}
	return b.String()
}

// Unwrap returns the sentinel cause.
func (e *WorkflowValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error with context.
func NewValidationError(cause error, field, value, reason, suggestion string) *WorkflowValidationError {
	errorHelpersLog.Printf("Creating validation error: field=%s, reason=%s", field, reason)
	return &WorkflowValidationError{
		Field:      field,
		Value:      value,
		Reason:     reason,
		Suggestion: suggestion,
		Err:        cause,
	}
}

// ValidationErrors extracts every *WorkflowValidationError from err,
// including those joined with errors.Join.
func ValidationErrors(err error) []*WorkflowValidationError {
	if err == nil {
		return nil
	}
	var out []*WorkflowValidationError
	var walk func(error)
	walk = func(e error) {
		if ve, ok := e.(*WorkflowValidationError); ok {
			out = append(out, ve)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
