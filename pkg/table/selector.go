package table

import (
	"errors"
	"fmt"
	"time"
)

// Selector picks a table version: the latest, a version number, or the
// newest version committed at or before a timestamp.
type Selector struct {
	Version   *int64     `json:"version,omitempty" yaml:"version,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Latest selects the current version.
func Latest() Selector {
	return Selector{}
}

// AtVersion selects version v.
func AtVersion(v int64) Selector {
	return Selector{Version: &v}
}

// AsOf selects the newest version committed at or before ts.
func AsOf(ts time.Time) Selector {
	return Selector{Timestamp: &ts}
}

// IsLatest reports whether no pin is set.
func (s Selector) IsLatest() bool {
	return s.Version == nil && s.Timestamp == nil
}

// Validate rejects selectors that pin both a version and a timestamp.
func (s Selector) Validate() error {
	if s.Version != nil && s.Timestamp != nil {
		return errors.New("version and timestamp are mutually exclusive")
	}
	if s.Version != nil && *s.Version < 0 {
		return fmt.Errorf("version must be non-negative, got %d", *s.Version)
	}
	return nil
}

// String describes the selector for logs and errors.
func (s Selector) String() string {
	switch {
	case s.Version != nil:
		return fmt.Sprintf("version %d", *s.Version)
	case s.Timestamp != nil:
		return "as of " + s.Timestamp.UTC().Format(time.RFC3339)
	default:
		return "latest"
	}
}

// Pick returns the version selected from history, which must be ordered
// newest first. It is shared by catalog implementations.
func (s Selector) Pick(history []VersionInfo) (VersionInfo, error) {
	if len(history) == 0 {
		return VersionInfo{}, ErrTableNotFound
	}
	switch {
	case s.Version != nil:
		for _, v := range history {
			if v.Version == *s.Version {
				return v, nil
			}
		}
	case s.Timestamp != nil:
		for _, v := range history {
			if !v.Timestamp.After(*s.Timestamp) {
				return v, nil
			}
		}
	default:
		return history[0], nil
	}
	return VersionInfo{}, fmt.Errorf("%w: %s", ErrVersionNotFound, s)
}
