package utils

import (
	"errors"
	"fmt"
)

// ValidationError reports an invalid configuration or request field.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns "field: message", or just the message when no field is set.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorf creates a ValidationError for field with a formatted message.
func NewValidationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
