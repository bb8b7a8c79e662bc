// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/invowk/scriptbox/internal/cueutil"
	"github.com/invowk/scriptbox/internal/issue"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "scriptbox"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. SCRIPTBOX_LOG_LEVEL.
	EnvPrefix = "SCRIPTBOX"
)

// ErrConfigExists is returned by CreateDefaultConfig when a file exists
// and force is not set.
var ErrConfigExists = errors.New("config file already exists")

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the scriptbox configuration directory: %APPDATA% on
// Windows, ~/Library/Application Support on macOS and $XDG_CONFIG_HOME
// (defaulting to ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// DefaultPath returns the config file path inside ConfigDir.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// loadWithOptions loads defaults, the config file and SCRIPTBOX_* overrides,
// in increasing precedence. It returns the path of the file it read, or ""
// when none exists.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	switch {
	case fileExists(path):
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", loadError(path, err)
		}
	case explicit:
		return nil, "", loadError(path, fmt.Errorf("config file not found: %s", path))
	default:
		path = ""
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", loadError(path, fmt.Errorf("failed to parse config: %w", err))
	}
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errors.Join(errs...)).
			BuildError()
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("max_dumps", d.MaxDumps)
	v.SetDefault("handshake.poll_interval", d.Handshake.PollInterval)
	v.SetDefault("handshake.timeout", d.Handshake.Timeout)
	v.SetDefault("quotas.max_depth", d.Quotas.MaxDepth)
	v.SetDefault("quotas.max_expanded_depth", d.Quotas.MaxExpandedDepth)
	v.SetDefault("quotas.max_enumerable_length", d.Quotas.MaxEnumerableLength)
	v.SetDefault("quotas.max_string_length", d.Quotas.MaxStringLength)
	v.SetDefault("session.references", d.Session.References)
	v.SetDefault("session.imports", d.Session.Imports)
	v.SetDefault("session.working_directory", d.Session.WorkingDirectory)
	v.SetDefault("ui.color_scheme", d.UI.ColorScheme)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// resolvePath picks the file to load. An explicit path must exist; the
// default location may be missing.
func resolvePath(opts LoadOptions) (path string, explicit bool, err error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, true, nil
	}
	if opts.ConfigDirPath != "" {
		return filepath.Join(opts.ConfigDirPath, ConfigFileName+"."+ConfigFileExt), false, nil
	}
	path, err = DefaultPath()
	return path, false, err
}

func loadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Run 'scriptbox config show' to see the effective configuration").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}

// loadCUEIntoViper validates the file against #Config and merges it over
// the defaults already set in v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	res, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to path, or to
// DefaultPath when path is empty. An existing file is kept unless force is
// set. It returns the path written.
func CreateDefaultConfig(path string, force bool) (string, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return "", err
		}
	}
	if fileExists(path) && !force {
		return path, fmt.Errorf("%s: %w", path, ErrConfigExists)
	}
	return path, Save(DefaultConfig(), path)
}

// Save writes cfg as CUE to path, creating its directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg in the config file format.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// scriptbox configuration\n")
	sb.WriteString("// Environment variables prefixed SCRIPTBOX_ override these values.\n\n")

	fmt.Fprintf(&sb, "log_level:    %q\n", cfg.LogLevel)
	if cfg.StateDir != "" {
		fmt.Fprintf(&sb, "state_dir:    %q\n", cfg.StateDir)
	}
	fmt.Fprintf(&sb, "max_attempts: %d\n", cfg.MaxAttempts)
	fmt.Fprintf(&sb, "max_dumps:    %d\n", cfg.MaxDumps)

	sb.WriteString("\nhandshake: {\n")
	fmt.Fprintf(&sb, "\tpoll_interval: %q\n", cfg.Handshake.PollInterval.String())
	fmt.Fprintf(&sb, "\ttimeout:       %q\n", cfg.Handshake.Timeout.String())
	sb.WriteString("}\n")

	sb.WriteString("\nquotas: {\n")
	fmt.Fprintf(&sb, "\tmax_depth:             %d\n", cfg.Quotas.MaxDepth)
	fmt.Fprintf(&sb, "\tmax_expanded_depth:    %d\n", cfg.Quotas.MaxExpandedDepth)
	fmt.Fprintf(&sb, "\tmax_enumerable_length: %d\n", cfg.Quotas.MaxEnumerableLength)
	fmt.Fprintf(&sb, "\tmax_string_length:     %d\n", cfg.Quotas.MaxStringLength)
	sb.WriteString("}\n")

	sb.WriteString("\nsession: {\n")
	fmt.Fprintf(&sb, "\treferences: %s\n", cueList(cfg.Session.References))
	fmt.Fprintf(&sb, "\timports:    %s\n", cueList(cfg.Session.Imports))
	if cfg.Session.WorkingDirectory != "" {
		fmt.Fprintf(&sb, "\tworking_directory: %q\n", cfg.Session.WorkingDirectory)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose:      %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
