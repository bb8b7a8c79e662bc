// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invowk/scriptbox/internal/host"
	"github.com/invowk/scriptbox/internal/protocol"
	"github.com/invowk/scriptbox/internal/resulttree"
	"github.com/invowk/scriptbox/internal/supervisor"

	"github.com/charmbracelet/log"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultLogLevel keeps the REPL quiet unless something goes wrong.
	DefaultLogLevel = "warn"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidLogLevel is returned when log_level is not a known level.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidHandshake is the sentinel error wrapped by InvalidHandshakeConfigError.
	ErrInvalidHandshake = errors.New("invalid handshake config")
	// ErrInvalidSession is the sentinel error wrapped by InvalidSessionConfigError.
	ErrInvalidSession = errors.New("invalid session config")
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

	// InvalidLogLevelError is returned when log_level cannot be parsed.
	InvalidLogLevelError struct {
		Value string
	}

	// Config is the scriptbox configuration.
	Config struct {
		// LogLevel is one of debug, info, warn or error.
		LogLevel string `json:"log_level" mapstructure:"log_level"`
		// StateDir holds worker sockets and readiness files. Empty means
		// the system temp directory.
		StateDir string `json:"state_dir" mapstructure:"state_dir"`
		// MaxAttempts is the spawn budget per submission or reset.
		MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
		// MaxDumps caps the results streamed by one worker session.
		MaxDumps int `json:"max_dumps" mapstructure:"max_dumps"`
		// Handshake times the wait for a new worker.
		Handshake HandshakeConfig `json:"handshake" mapstructure:"handshake"`
		// Quotas bound every result tree.
		Quotas resulttree.Quotas `json:"quotas" mapstructure:"quotas"`
		// Session configures what every new worker loads.
		Session SessionConfig `json:"session" mapstructure:"session"`
		// UI configures the REPL.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// HandshakeConfig times the startup of a worker.
	HandshakeConfig struct {
		PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
		Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// InvalidHandshakeConfigError is returned for non-positive durations or
	// a poll interval longer than the timeout.
	InvalidHandshakeConfigError struct {
		PollInterval time.Duration
		Timeout      time.Duration
	}

	// SessionConfig lists what is loaded into every worker session.
	SessionConfig struct {
		References       []string `json:"references" mapstructure:"references"`
		Imports          []string `json:"imports" mapstructure:"imports"`
		WorkingDirectory string   `json:"working_directory" mapstructure:"working_directory"`
	}

	// InvalidSessionConfigError is returned for blank reference or import
	// entries.
	InvalidSessionConfigError struct {
		Field string
		Index int
	}

	// UIConfig configures the REPL.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}

	// InvalidConfigError collects every field error of a Config.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    DefaultLogLevel,
		MaxAttempts: host.MaxAttemptsToCreateProcess,
		MaxDumps:    protocol.DefaultMaxDumpsPerSession,
		Handshake: HandshakeConfig{
			PollInterval: supervisor.DefaultPollInterval,
			Timeout:      supervisor.DefaultHandshakeTimeout,
		},
		Quotas: resulttree.DefaultQuotas(),
		Session: SessionConfig{
			References: []string{},
			Imports:    []string{},
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// Level returns the parsed log level.
func (c Config) Level() (log.Level, error) {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel, &InvalidLogLevelError{Value: c.LogLevel}
	}
	return lvl, nil
}

// InitializeParams returns what every new worker session is initialized with.
func (c Config) InitializeParams() protocol.InitializeParams {
	return protocol.InitializeParams{
		References:         c.Session.References,
		Imports:            c.Session.Imports,
		WorkingDirectory:   c.Session.WorkingDirectory,
		Quotas:             c.Quotas,
		MaxDumpsPerSession: c.MaxDumps,
	}
}

// IsValid returns whether every field of the Config is valid.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d: %w", c.MaxAttempts, ErrInvalidConfig))
	}
	if c.MaxDumps < 1 {
		errs = append(errs, fmt.Errorf("max_dumps must be at least 1, got %d: %w", c.MaxDumps, ErrInvalidConfig))
	}
	if valid, fieldErrs := c.Handshake.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if err := c.Quotas.Validate(); err != nil {
		errs = append(errs, err)
	}
	if valid, fieldErrs := c.Session.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// IsValid returns whether both durations are positive and the poll
// interval fits in the timeout.
func (h HandshakeConfig) IsValid() (bool, []error) {
	if h.PollInterval <= 0 || h.Timeout <= 0 || h.PollInterval > h.Timeout {
		return false, []error{&InvalidHandshakeConfigError{PollInterval: h.PollInterval, Timeout: h.Timeout}}
	}
	return true, nil
}

// IsValid returns whether no reference or import is blank.
func (s SessionConfig) IsValid() (bool, []error) {
	var errs []error
	for i, ref := range s.References {
		if strings.TrimSpace(ref) == "" {
			errs = append(errs, &InvalidSessionConfigError{Field: "references", Index: i})
		}
	}
	for i, imp := range s.Imports {
		if strings.TrimSpace(imp) == "" {
			errs = append(errs, &InvalidSessionConfigError{Field: "imports", Index: i})
		}
	}
	return len(errs) == 0, errs
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined schemes.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (e *InvalidHandshakeConfigError) Error() string {
	return fmt.Sprintf("invalid handshake timing: poll_interval %s, timeout %s", e.PollInterval, e.Timeout)
}

// Unwrap returns ErrInvalidHandshake for errors.Is() compatibility.
func (e *InvalidHandshakeConfigError) Unwrap() error { return ErrInvalidHandshake }

func (e *InvalidSessionConfigError) Error() string {
	return fmt.Sprintf("session.%s[%d] is blank", e.Field, e.Index)
}

// Unwrap returns ErrInvalidSession for errors.Is() compatibility.
func (e *InvalidSessionConfigError) Unwrap() error { return ErrInvalidSession }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
