// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/invowk/scriptbox/internal/host"
	"github.com/invowk/scriptbox/internal/issue"
	"github.com/invowk/scriptbox/internal/resulttree"

	"github.com/charmbracelet/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cue")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if valid, errs := cfg.IsValid(); !valid {
		t.Fatalf("DefaultConfig() is invalid: %v", errs)
	}
	if cfg.MaxAttempts != host.MaxAttemptsToCreateProcess {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, host.MaxAttemptsToCreateProcess)
	}
	if lvl, err := cfg.Level(); err != nil || lvl != log.WarnLevel {
		t.Errorf("Level() = %v, %v; want warn", lvl, err)
	}
	if cfg.UI.ColorScheme != ColorSchemeAuto {
		t.Errorf("ColorScheme = %q, want auto", cfg.UI.ColorScheme)
	}

	p := cfg.InitializeParams()
	if p.MaxDumpsPerSession != cfg.MaxDumps || p.Quotas != cfg.Quotas {
		t.Errorf("InitializeParams() = %+v", p)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := NewProvider().LoadWithSource(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("LoadWithSource() error = %v", err)
	}
	if path != "" {
		t.Errorf("source = %q, want none", path)
	}
	want := DefaultConfig()
	if cfg.MaxDumps != want.MaxDumps || cfg.Handshake != want.Handshake || cfg.Quotas != want.Quotas {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoad_ZeroQuotasReachInitializeParams(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
quotas: {
	max_depth: 0
	max_expanded_depth: 0
	max_enumerable_length: 0
	max_string_length: 0
}
`)
	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.InitializeParams().Quotas; got != (resulttree.Quotas{}) {
		t.Errorf("InitializeParams().Quotas = %+v, want all zero as configured", got)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
log_level: "debug"
max_attempts: 3
handshake: {
	timeout: "1m"
}
quotas: {
	max_depth: 2
}
session: {
	references: ["lib/common.sh"]
	working_directory: "/srv"
}
ui: color_scheme: "dark"
`)
	cfg, src, err := NewProvider().LoadWithSource(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("LoadWithSource() error = %v", err)
	}
	if src != path {
		t.Errorf("source = %q, want %q", src, path)
	}
	if cfg.LogLevel != "debug" || cfg.MaxAttempts != 3 {
		t.Errorf("LogLevel, MaxAttempts = %q, %d", cfg.LogLevel, cfg.MaxAttempts)
	}
	if cfg.Handshake.Timeout != time.Minute {
		t.Errorf("Handshake.Timeout = %s, want 1m", cfg.Handshake.Timeout)
	}
	if cfg.Handshake.PollInterval != DefaultConfig().Handshake.PollInterval {
		t.Errorf("Handshake.PollInterval = %s, want the default", cfg.Handshake.PollInterval)
	}
	if cfg.Quotas.MaxDepth != 2 || cfg.Quotas.MaxEnumerableLength != DefaultConfig().Quotas.MaxEnumerableLength {
		t.Errorf("Quotas = %+v", cfg.Quotas)
	}
	if len(cfg.Session.References) != 1 || cfg.Session.References[0] != "lib/common.sh" || cfg.Session.WorkingDirectory != "/srv" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.UI.ColorScheme != ColorSchemeDark {
		t.Errorf("ColorScheme = %q, want dark", cfg.UI.ColorScheme)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantIs  error
		wantMsg string
	}{
		{name: "unknown field", content: `colour: "red"`, wantMsg: "colour"},
		{name: "attempts out of range", content: `max_attempts: 0`, wantMsg: "max_attempts"},
		{name: "bad duration", content: `handshake: timeout: "5 seconds"`, wantMsg: "handshake.timeout"},
		{name: "bad log level", content: `log_level: "loud"`, wantMsg: "log_level"},
		{name: "syntax error", content: `max_dumps: [`, wantMsg: "config.cue"},
		{
			name:    "poll interval longer than timeout",
			content: "handshake: {\n\tpoll_interval: \"10s\"\n\ttimeout: \"1s\"\n}\n",
			wantIs:  ErrInvalidHandshake,
		},
		{name: "blank reference", content: `session: references: ["  "]`, wantIs: ErrInvalidSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.content)
			_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("Load() succeeded")
			}
			ae, ok := issue.AsActionable(err)
			if !ok || ae.Issue != issue.ConfigLoadFailedId {
				t.Errorf("error %v is not linked to the config issue", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: missing})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want not found", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); err == nil {
		t.Error("Load() with a canceled context succeeded")
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SCRIPTBOX_MAX_ATTEMPTS", "4")
	t.Setenv("SCRIPTBOX_HANDSHAKE_TIMEOUT", "45s")
	t.Setenv("SCRIPTBOX_LOG_LEVEL", "error")

	path := writeConfig(t, "max_attempts: 3\nlog_level: \"debug\"\n")
	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4 from the environment", cfg.MaxAttempts)
	}
	if cfg.Handshake.Timeout != 45*time.Second {
		t.Errorf("Handshake.Timeout = %s, want 45s", cfg.Handshake.Timeout)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", cfg.LogLevel)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StateDir = "/var/run/scriptbox"
	cfg.MaxDumps = 50
	cfg.Handshake.Timeout = 90 * time.Second
	cfg.Session.Imports = []string{"/opt/tools/bin"}
	cfg.UI.Verbose = true

	path := filepath.Join(t.TempDir(), "nested", "config.cue")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() of generated file error = %v\n%s", err, GenerateCUE(cfg))
	}
	if got.StateDir != cfg.StateDir || got.MaxDumps != 50 || got.Handshake != cfg.Handshake || !got.UI.Verbose {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
	if len(got.Session.Imports) != 1 || got.Session.Imports[0] != "/opt/tools/bin" {
		t.Errorf("Session.Imports = %v", got.Session.Imports)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.cue")
	written, err := CreateDefaultConfig(path, false)
	if err != nil || written != path {
		t.Fatalf("CreateDefaultConfig() = %q, %v", written, err)
	}
	if _, err := CreateDefaultConfig(path, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second CreateDefaultConfig() error = %v, want ErrConfigExists", err)
	}
	if _, err := CreateDefaultConfig(path, true); err != nil {
		t.Errorf("forced CreateDefaultConfig() error = %v", err)
	}
}

func TestConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	got, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "config.cue"); got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG_CONFIG_HOME is not used on Windows")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	got, err := ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("/tmp/xdg", AppName) && !strings.Contains(got, "Application Support") {
		t.Errorf("ConfigDir() = %q", got)
	}
}
