/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a session id and secret do not match.
	// It carries no detail on purpose.
	ErrUnauthorized = errors.New("invalid session or token mismatch")

	// ErrNoActiveRegion means a guess was submitted with no pending region.
	ErrNoActiveRegion = errors.New("no active region to validate")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}
