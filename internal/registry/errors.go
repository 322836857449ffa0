package registry

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no entry has the requested slug.
var ErrNotFound = errors.New("rule not found")

// NotFoundError carries the slug that was looked up.
type NotFoundError struct {
	Slug string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %q", ErrNotFound, e.Slug)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
