// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/venvoy/venvoy/internal/container"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// defaultAutoSavePollSeconds is the snapshot poll interval used when the
	// config file does not set one.
	defaultAutoSavePollSeconds = 30
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidAutoSaveConfig is the sentinel error wrapped by InvalidAutoSaveConfigError.
	ErrInvalidAutoSaveConfig = errors.New("invalid auto-save config")
	// ErrInvalidClusterConfig is the sentinel error wrapped by InvalidClusterConfigError.
	ErrInvalidClusterConfig = errors.New("invalid cluster config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// ClusterConfig extends the built-in cluster detection lists. Entries here
	// are appended to the defaults, never replacing them, so a site config can
	// add its scheduler without losing SLURM/PBS/LSF/SGE detection.
	ClusterConfig struct {
		SchedulerVars    []string `mapstructure:"scheduler_vars"`
		HostnamePatterns []string `mapstructure:"hostname_patterns"`
	}

	// InvalidClusterConfigError is returned when a ClusterConfig entry is
	// empty or whitespace-only.
	InvalidClusterConfigError struct {
		Field string
		Index int
	}

	// AutoSaveConfig controls session-boundary snapshot polling.
	AutoSaveConfig struct {
		Enabled     bool `mapstructure:"enabled"`
		PollSeconds int  `mapstructure:"poll_seconds"`
	}

	// InvalidAutoSaveConfigError is returned when the poll interval is not positive.
	InvalidAutoSaveConfigError struct {
		PollSeconds int
	}

	// UIConfig contains terminal presentation settings.
	UIConfig struct {
		ColorScheme ColorScheme `mapstructure:"color_scheme"`
		Verbose     bool        `mapstructure:"verbose"`
	}

	// Config is the root configuration.
	Config struct {
		// Runtime is the preferred container runtime. It reorders the
		// priority list but never bypasses health probing; an empty value
		// means pure context-based selection.
		Runtime string `mapstructure:"runtime"`
		// StoreDir overrides the environment store location. Empty means
		// the platform data directory.
		StoreDir string         `mapstructure:"store_dir"`
		Cluster  ClusterConfig  `mapstructure:"cluster"`
		AutoSave AutoSaveConfig `mapstructure:"autosave"`
		UI       UIConfig       `mapstructure:"ui"`
	}

	// InvalidConfigError aggregates all validation failures of a Config.
	InvalidConfigError struct {
		FieldErrs []error
	}
)

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		AutoSave: AutoSaveConfig{
			Enabled:     true,
			PollSeconds: defaultAutoSavePollSeconds,
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// String returns the string representation of the ColorScheme.
func (c ColorScheme) String() string { return string(c) }

// Validate returns an error if the ColorScheme is not recognized.
func (c ColorScheme) Validate() error {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: c}
	}
}

// Error implements the error interface.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// Validate returns an error if any list entry is empty or whitespace-only.
func (c ClusterConfig) Validate() error {
	for i, v := range c.SchedulerVars {
		if strings.TrimSpace(v) == "" {
			return &InvalidClusterConfigError{Field: "scheduler_vars", Index: i}
		}
	}
	for i, p := range c.HostnamePatterns {
		if strings.TrimSpace(p) == "" {
			return &InvalidClusterConfigError{Field: "hostname_patterns", Index: i}
		}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidClusterConfigError) Error() string {
	return fmt.Sprintf("cluster.%s[%d]: entry is empty", e.Field, e.Index)
}

// Unwrap returns ErrInvalidClusterConfig for errors.Is() compatibility.
func (e *InvalidClusterConfigError) Unwrap() error { return ErrInvalidClusterConfig }

// Validate returns an error if the poll interval is not positive.
func (a AutoSaveConfig) Validate() error {
	if a.PollSeconds <= 0 {
		return &InvalidAutoSaveConfigError{PollSeconds: a.PollSeconds}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidAutoSaveConfigError) Error() string {
	return fmt.Sprintf("autosave.poll_seconds must be positive, got %d", e.PollSeconds)
}

// Unwrap returns ErrInvalidAutoSaveConfig for errors.Is() compatibility.
func (e *InvalidAutoSaveConfigError) Unwrap() error { return ErrInvalidAutoSaveConfig }

// Validate returns an error aggregating every invalid field of the Config.
func (c *Config) Validate() error {
	var errs []error
	if c.Runtime != "" {
		if err := container.Kind(c.Runtime).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Cluster.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.AutoSave.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrs: errs}
	}
	return nil
}

// PreferredRuntime returns the configured runtime preference as a Kind.
func (c *Config) PreferredRuntime() container.Kind {
	return container.Kind(c.Runtime)
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s): %v", len(e.FieldErrs), errors.Join(e.FieldErrs...))
}

// Unwrap returns ErrInvalidConfig plus every field error, so errors.Is()
// matches both the aggregate sentinel and the individual causes.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrs...)
}
