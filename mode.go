package volley

import (
	"fmt"
	"strings"
)

// Mode is the controller's current recommendation about which operation
// kind to favor.
type Mode string

// Modes.
const (
	ModeReplenish Mode = "replenish"
	ModeStabilize Mode = "stabilize"
	ModeExtract   Mode = "extract"
)

// Modes lists every mode.
var Modes = [...]Mode{ModeReplenish, ModeStabilize, ModeExtract}

// Primary returns the operation kind a mode favors.
func (m Mode) Primary() Kind {
	switch m {
	case ModeExtract:
		return Extract
	case ModeReplenish:
		return Replenish
	case ModeStabilize:
		return Stabilize
	}
	return ""
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m.Primary() != "" }

// String implements fmt.Stringer.
func (m Mode) String() string { return string(m) }

// ParseMode converts a mode tag back into a Mode. Matching is case
// insensitive so "STABILIZE" and "stabilize" are the same mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("volley: unknown mode %q", s)
	}
	return m, nil
}
