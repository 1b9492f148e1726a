package storage

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// MaxNameLength bounds logical names so that a location (name plus a
// 37 byte suffix) still fits a single path component on common filesystems.
const MaxNameLength = 200

// Location is an opaque handle to an object on a Medium.
type Location string

// FileEntry is the index record for one stored name.
type FileEntry struct {
	Name     string
	Location Location
	Size     int64
}

// ValidateName reports why name cannot be stored, or nil.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("name is empty")
	case name == "." || name == "..":
		return errors.New("name is a relative path segment")
	case len(name) > MaxNameLength:
		return errors.New("name is too long")
	case strings.ContainsAny(name, "/\\"):
		return errors.New("name contains a path separator")
	case strings.ContainsRune(name, 0):
		return errors.New("name contains a NUL byte")
	}
	return nil
}

// newLocation returns a fresh location for name. UUIDv7 strings sort in
// creation order, which Reindex relies on.
func newLocation(name string) Location {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Location(name + "." + id.String())
}

// Name returns the logical name encoded in l. ok is false for anything that
// was not produced by newLocation, such as temp files.
func (l Location) Name() (name string, ok bool) {
	s := string(l)
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 {
		return "", false
	}
	if _, err := uuid.Parse(s[dot+1:]); err != nil {
		return "", false
	}
	name = s[:dot]
	if ValidateName(name) != nil {
		return "", false
	}
	return name, true
}

// ObjectInfo describes an object found on a medium.
type ObjectInfo struct {
	Location Location
	Size     int64
}
