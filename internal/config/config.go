// Package config loads ~/.config/pandemonium/config.toml. The command
// line uses a file value where the matching flag is left empty (the
// slice durations, the compositor list) or nr_cpus where --nr-cpus is 0
// or less, and ORs the boolean fields with their flags, so a file value
// of true cannot be turned off from the command line. lat_cri_low and
// lat_cri_high are parsed but not read.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// File is the on-disk shape of config.toml.
type File struct {
	NrCPUs      int      `toml:"nr_cpus"`
	NoAdaptive  bool     `toml:"no_adaptive"`
	SliceNS     string   `toml:"slice_ns"`
	SliceMin    string   `toml:"slice_min"`
	SliceMax    string   `toml:"slice_max"`
	LatCriLow   int      `toml:"lat_cri_low"`
	LatCriHigh  int      `toml:"lat_cri_high"`
	Compositors []string `toml:"compositor"`
	Lightweight bool     `toml:"lightweight"`
	Verbose     bool     `toml:"verbose"`
}

// DefaultPath returns ~/.config/pandemonium/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pandemonium", "config.toml")
}

// Load reads and parses a config file. A missing file is not an error —
// it returns a zero-value File, letting flag defaults stand.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	if _, err := toml.Decode(string(data), &f); err != nil {
		return f, err
	}
	return f, nil
}

// ParseDurationOr parses s as a duration, returning fallback on empty
// input or parse error.
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
