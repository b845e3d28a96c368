package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState = errors.New("template already submitted or finalized")
	ErrNoContentSID = errors.New("template has no content SID")
)

// ValidationError is a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
