package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("validation error")
	// ErrCorruptEntry marks a persisted record that cannot be parsed.
	ErrCorruptEntry = errors.New("corrupt entry")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError with a formatted reason.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CorruptEntryError identifies a record that failed to parse.
type CorruptEntryError struct {
	Path string
	ID   string
	Err  error
}

func (e *CorruptEntryError) Error() string {
	id := e.ID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("corrupt entry %s (%s): %v", id, e.Path, e.Err)
}

func (e *CorruptEntryError) Unwrap() []error { return []error{ErrCorruptEntry, e.Err} }
