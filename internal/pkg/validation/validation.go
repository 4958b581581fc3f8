// Package validation holds the error type shared by every input check that
// maps to a client error.
package validation

import (
	"errors"
	"fmt"
)

// Error reports missing or malformed caller input. Nothing is written when
// one is returned.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// New creates an Error for field.
func New(field, message string) *Error {
	return &Error{Field: field, Message: message}
}

// As returns the Error wrapped by err, if any.
func As(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Is reports whether err wraps an Error.
func Is(err error) bool {
	_, ok := As(err)
	return ok
}
