package orchestrator

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Target selects where a stepping command plays.
type Target int

const (
	TargetLocal  Target = iota // Local audio output
	TargetRemote               // Remote playback device
)

// String returns the string representation of the target.
func (t Target) String() string {
	switch t {
	case TargetLocal:
		return "local"
	case TargetRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ParseTarget parses "local" or "remote". The empty string means local.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return TargetLocal, nil
	case "remote":
		return TargetRemote, nil
	default:
		return TargetLocal, errors.Wrapf(ErrInvalidTarget, "%q", s)
	}
}
