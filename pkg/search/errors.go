package search

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a saved search does not exist
	ErrNotFound = errors.New("not found")

	// ErrCheckInProgress is returned when another process holds the check lock
	ErrCheckInProgress = errors.New("check already in progress")
)

// ValidationError reports a malformed or out-of-range request parameter
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
