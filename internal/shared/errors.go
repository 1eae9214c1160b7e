package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInvalidState occurs when an action violates a status workflow.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConflict indicates the request was already processed.
	ErrConflict = errors.New("conflict")
	// ErrGone indicates an expired or revoked resource.
	ErrGone = errors.New("gone")
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldErrors maps field names to human readable messages.
type FieldErrors map[string]string

// ValidationError carries per-field messages and unwraps to ErrValidation.
type ValidationError struct {
	Fields FieldErrors
}

// NewValidationError builds a ValidationError from field messages.
func NewValidationError(fields FieldErrors) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Describe flattens err into one line. Validation errors list their fields
// as "field message" pairs.
func Describe(err error) string {
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) == 0 {
		return err.Error()
	}
	keys := make([]string, 0, len(verr.Fields))
	for k := range verr.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+verr.Fields[k])
	}
	return strings.Join(parts, "; ")
}
