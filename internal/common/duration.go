package common

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can express it as a plain
// human-readable string ("30s", "5m", "1h30m45s") in YAML, JSON, or TOML.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Schema is a minimal, dependency-free stand-in for the documentation
// metadata a JSON-schema generator would attach to this type.
type Schema struct {
	Type        string
	Title       string
	Description string
	Examples    []string
}

// JSONSchema describes Duration's wire representation for documentation
// tooling.
func (d Duration) JSONSchema() Schema {
	return Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units, e.g. \"30s\", \"5m\", \"1h30m45s\".",
		Examples:    []string{"1m", "300ms", "1h30m"},
	}
}
