package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModeLevel is the canonical operating mode shared by every guard.
// Higher values are more severe.
type ModeLevel int

const (
	ModeNormal ModeLevel = iota
	ModeDegraded
	ModePanic
	ModeHaltEntry
)

// Modes lists every level from least to most severe.
var Modes = []ModeLevel{ModeNormal, ModeDegraded, ModePanic, ModeHaltEntry}

func (m ModeLevel) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	case ModePanic:
		return "panic"
	case ModeHaltEntry:
		return "halt_entry"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Valid reports whether m is one of the canonical levels.
func (m ModeLevel) Valid() bool {
	return m >= ModeNormal && m <= ModeHaltEntry
}

// Intermediate reports whether m sits strictly between Normal and HaltEntry.
func (m ModeLevel) Intermediate() bool {
	return m == ModeDegraded || m == ModePanic
}

// ParseModeLevel accepts canonical names (case-insensitive).
func ParseModeLevel(s string) (ModeLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return ModeNormal, nil
	case "degraded":
		return ModeDegraded, nil
	case "panic":
		return ModePanic, nil
	case "halt_entry", "haltentry", "halt":
		return ModeHaltEntry, nil
	default:
		return ModeNormal, fmt.Errorf("unknown mode %q", s)
	}
}

func (m ModeLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *ModeLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	lvl, err := ParseModeLevel(s)
	if err != nil {
		return err
	}
	*m = lvl
	return nil
}

// ModeLabels maps canonical levels onto a guard's own vocabulary.
type ModeLabels map[ModeLevel]string

// Label returns the guard-specific name for m, falling back to the canonical one.
func (l ModeLabels) Label(m ModeLevel) string {
	if s, ok := l[m]; ok && s != "" {
		return s
	}
	return m.String()
}

// MaxMode returns the more severe of a and b.
func MaxMode(a, b ModeLevel) ModeLevel {
	if a > b {
		return a
	}
	return b
}
