package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is returned when a file name cannot be stored.
	ErrInvalidName = errors.New("invalid name")

	// ErrNotFound is returned when a name is not present in the index.
	ErrNotFound = errors.New("not found")

	// ErrMedium is returned when the storage medium fails or disagrees
	// with the index.
	ErrMedium = errors.New("medium error")
)

// Error describes a failed engine operation.
// It matches both its Kind and its cause with errors.Is.
type Error struct {
	Kind error  // ErrInvalidName, ErrNotFound or ErrMedium
	Err  error  // underlying cause, may be nil
	Op   string // store, retrieve, delete, reindex
	Name string // logical file name
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Kind)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidName(op, name string, cause error) error {
	return &Error{Op: op, Name: name, Kind: ErrInvalidName, Err: cause}
}

func notFound(op, name string) error {
	return &Error{Op: op, Name: name, Kind: ErrNotFound}
}

func mediumError(op, name string, cause error) error {
	return &Error{Op: op, Name: name, Kind: ErrMedium, Err: cause}
}
