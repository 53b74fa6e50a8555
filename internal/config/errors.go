package config

import "fmt"

// ConfigError covers keyword-missing, type-conversion, reference-cycle, and
// unknown-section failures. It is always surfaced to the caller; the engine
// never retries a ConfigError automatically.
type ConfigError struct {
	Op     string // "get", "set", "convert", "interpolate", "load"
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Op, e.Detail)
}

// MissingKeyError is raised at load time for a required keyword with no
// default value present in the on-disk file.
type MissingKeyError struct {
	Section, Keyword string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("config: missing required keyword %s.%s", e.Section, e.Keyword)
}
