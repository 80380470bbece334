// File: config/duration.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"time"

	"github.com/goccy/go-yaml"
)

// Duration is a time.Duration written as text ("250ms", "5s") in YAML,
// TOML and the environment.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a time.ParseDuration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the canonical duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML accepts a duration string or a bare integer of
// nanoseconds.
func (d *Duration) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err == nil {
		if v, err := time.ParseDuration(s); err == nil {
			*d = Duration(v)
			return nil
		}
	}
	var n int64
	if err := yaml.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}
