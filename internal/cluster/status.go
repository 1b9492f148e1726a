package cluster

import (
	"fmt"
	"strings"
)

// Status is the liveness of a node as recorded in the registry.
type Status uint8

const (
	// Unknown is the zero value: the node joined without a known state.
	Unknown Status = iota
	// Active nodes answered their last check or announced themselves.
	Active
	// Inactive nodes failed repeated checks or were marked down explicitly.
	Inactive
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// ParseStatus converts "active", "inactive" or "unknown" (any case) to a
// Status. An empty string parses as Unknown.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return Active, nil
	case "inactive":
		return Inactive, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown node status %q", s)
}

// MarshalText implements encoding.TextMarshaler so statuses read well in
// JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
