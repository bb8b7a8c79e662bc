// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/invowk/scriptbox/internal/config"
	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/host"
	"github.com/invowk/scriptbox/internal/issue"
	"github.com/invowk/scriptbox/internal/resulttree"
	"github.com/invowk/scriptbox/internal/supervisor"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// workerLogLevelEnv carries the configured log level to workers, which do
// not read the config file.
const workerLogLevelEnv = config.EnvPrefix + "_LOG_LEVEL"

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reaches configuration and sessions through it.
	App struct {
		Config   config.Provider
		Sessions SessionFactory
		stdin    io.Reader
		stdout   io.Writer
		stderr   io.Writer

		configPath string
		verbose    bool
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config   config.Provider
		Sessions SessionFactory
		Stdin    io.Reader
		Stdout   io.Writer
		Stderr   io.Writer
	}

	// Session runs submissions against one worker-backed session.
	// *host.Controller implements it.
	Session interface {
		ExecuteAsync(ctx context.Context, code string, token int64) error
		ResetAsync(ctx context.Context) error
		Close() error
	}

	// Events receives what a Session's worker streams back. Callbacks may
	// run on another goroutine.
	Events struct {
		OnDump        func(n *resulttree.Node)
		OnComplete    func(token int64)
		OnDiagnostics func(token int64, diags []engine.Diagnostic)
		OnFault       func(token int64, message string)
		OnLost        func(pid int, tokens []int64, err error)
	}

	// SessionFactory creates a Session for cfg. A non-nil reg receives the
	// session's collectors.
	SessionFactory func(cfg *config.Config, logger *log.Logger, events Events, reg prometheus.Registerer) (Session, error)
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Sessions == nil {
		deps.Sessions = newHostSession
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	return &App{
		Config:   deps.Config,
		Sessions: deps.Sessions,
		stdin:    deps.Stdin,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
	}
}

// loadConfig loads the effective configuration honoring --config. It also
// returns the file that was read, or "" for defaults only.
func (a *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	cfg, path, err := a.Config.LoadWithSource(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	if err != nil {
		return nil, "", err
	}
	if cfg.UI.Verbose {
		a.verbose = true
	}
	return cfg, path, nil
}

// logger builds the CLI logger at the configured level.
func (a *App) logger(cfg *config.Config) *log.Logger {
	lvl, err := cfg.Level()
	if err != nil {
		lvl = log.WarnLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Level:  lvl,
		Prefix: config.AppName,
	})
}

// fail prints err for the user and turns it into an ExitError so fang does
// not print it a second time in a different form.
func (a *App) fail(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	a.printErr(ErrorStyle.Render("Error: ") + formatErrorForDisplay(err, a.verbose))
	return &ExitError{Code: 1, Err: err}
}

func (a *App) printErr(msg string) {
	_, _ = io.WriteString(a.stderr, msg+"\n")
}

// formatErrorForDisplay uses ActionableError.Format when available; verbose
// adds the error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	if ae, ok := issue.AsActionable(err); ok {
		return ae.Format(verbose)
	}
	return err.Error()
}

// newHostSession starts sessions on worker processes running this binary.
func newHostSession(cfg *config.Config, logger *log.Logger, events Events, reg prometheus.Registerer) (Session, error) {
	sup, err := supervisor.New(supervisor.Config{
		Env:              []string{workerLogLevelEnv + "=" + cfg.LogLevel},
		StateDir:         cfg.StateDir,
		PollInterval:     cfg.Handshake.PollInterval,
		HandshakeTimeout: cfg.Handshake.Timeout,
		Init:             cfg.InitializeParams(),
		Logger:           logger.WithPrefix("supervisor"),
	})
	if err != nil {
		return nil, err
	}
	return host.New(sup,
		host.WithLogger(logger.WithPrefix("host")),
		host.WithMaxAttempts(cfg.MaxAttempts),
		host.WithRegisterer(reg),
		host.WithDumpHandler(host.DumpHandler(events.OnDump)),
		host.WithCompletionHandler(host.CompletionHandler(events.OnComplete)),
		host.WithDiagnosticsHandler(host.DiagnosticsHandler(events.OnDiagnostics)),
		host.WithFaultHandler(host.FaultHandler(events.OnFault)),
		host.WithLostHandler(host.LostHandler(events.OnLost)),
	), nil
}
