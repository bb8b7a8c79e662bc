// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/host"
	"github.com/invowk/scriptbox/internal/issue"
	"github.com/invowk/scriptbox/internal/resulttree"
	"github.com/invowk/scriptbox/internal/watch"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	resetCommand = ":reset"
	quitCommand  = ":quit"
	exitCommand  = ":exit"

	// stdinFile makes "run -" read the whole script from stdin.
	stdinFile = "-"

	maxLineSize = 1 << 20
)

var (
	// ErrWorkerLost is returned for a submission whose worker died.
	ErrWorkerLost = errors.New("worker lost")
	// ErrTimedOut is returned for a submission that exceeded --timeout.
	ErrTimedOut = errors.New("submission timed out")
)

type (
	runOptions struct {
		watch       bool
		patterns    []string
		timeout     time.Duration
		metricsAddr string
	}

	// runner drives one session and prints what its worker streams back.
	runner struct {
		app     *App
		logger  *log.Logger
		timeout time.Duration
		session Session

		outMu sync.Mutex

		mu           sync.Mutex
		next         int64
		pending      map[int64]chan error
		failed       bool
		faultPending bool
	}
)

func newRunCommand(app *App) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script or start an interactive session",
		Long: `Run a script in a worker session, or read snippets from stdin one line
at a time when no file is given. Use "-" to read a whole script from stdin.

Every dump streamed by the worker is printed as a tree. In an interactive
session, ` + CmdStyle.Render(resetCommand) + ` discards the session and ` + CmdStyle.Render(quitCommand) + ` exits.`,
		Example: `  scriptbox run
  scriptbox run build.sh
  scriptbox run --watch --watch-pattern 'lib/**/*.sh' build.sh
  echo '((6*7))' | scriptbox run -
  scriptbox run --metrics-addr 127.0.0.1:9464 build.sh`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(runCommand(cmd.Context(), app, opts, args))
		},
	}
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-run the file in a fresh session whenever it changes")
	cmd.Flags().StringSliceVar(&opts.patterns, "watch-pattern", nil, "extra globs, relative to the file's directory, that trigger a re-run")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "reset the session when a submission runs longer than this (0 disables)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address at "+metricsPath+" while running")
	return cmd
}

func runCommand(ctx context.Context, app *App, opts runOptions, args []string) error {
	file := ""
	if len(args) == 1 {
		file = args[0]
	}
	if opts.watch && (file == "" || file == stdinFile) {
		return errors.New("--watch needs a script file")
	}

	cfg, _, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := app.logger(cfg)
	r := &runner{
		app:     app,
		logger:  logger,
		timeout: opts.timeout,
		pending: make(map[int64]chan error),
	}
	var reg prometheus.Registerer
	if opts.metricsAddr != "" {
		metrics, err := serveMetrics(opts.metricsAddr, logger)
		if err != nil {
			return err
		}
		defer metrics.Close()
		reg = metrics.registry
	}
	session, err := app.Sessions(cfg, logger, r.events(), reg)
	if err != nil {
		return err
	}
	r.session = session
	defer func() {
		if err := session.Close(); err != nil && !errors.Is(err, host.ErrClosed) {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	switch {
	case file == "":
		return r.repl(ctx)
	case opts.watch:
		return r.watch(ctx, file, opts.patterns)
	default:
		ok, err := r.runFile(ctx, file)
		if err != nil {
			return err
		}
		if !ok {
			return &ExitError{Code: 1}
		}
		return nil
	}
}

func (r *runner) events() Events {
	return Events{
		OnDump:        r.onDump,
		OnComplete:    r.onComplete,
		OnDiagnostics: r.onDiagnostics,
		OnFault:       r.onFault,
		OnLost:        r.onLost,
	}
}

// submit runs code and waits for it to complete. It reports whether the
// submission compiled and raised no exception.
func (r *runner) submit(ctx context.Context, code string) (bool, error) {
	r.mu.Lock()
	r.next++
	token := r.next
	done := make(chan error, 1)
	r.pending[token] = done
	r.failed = false
	r.mu.Unlock()

	start := time.Now()
	if err := r.session.ExecuteAsync(ctx, code, token); err != nil {
		r.forget(token)
		return false, err
	}

	var timeout <-chan time.Time
	if r.timeout > 0 {
		t := time.NewTimer(r.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case err := <-done:
		if err != nil {
			return false, err
		}
	case <-timeout:
		r.forget(token)
		if err := r.session.ResetAsync(ctx); err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w after %s; the session was reset", ErrTimedOut, r.timeout)
	case <-ctx.Done():
		r.forget(token)
		return false, ctx.Err()
	}

	if r.app.verbose {
		r.print(r.app.stderr, VerboseStyle.Render(fmt.Sprintf("completed in %s", time.Since(start).Round(time.Millisecond))))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.failed, nil
}

func (r *runner) forget(token int64) {
	r.mu.Lock()
	delete(r.pending, token)
	r.mu.Unlock()
}

// runFile submits a whole file, or stdin for "-", as one submission.
func (r *runner) runFile(ctx context.Context, path string) (bool, error) {
	var (
		data []byte
		err  error
	)
	if path == stdinFile {
		data, err = io.ReadAll(r.app.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return false, issue.NewErrorContext().
			WithOperation("read script").
			WithResource(path).
			Wrap(err).
			BuildError()
	}
	return r.submit(ctx, string(data))
}

// repl submits one line at a time until EOF, :quit or cancellation.
func (r *runner) repl(ctx context.Context) error {
	interactive := isTerminal(r.app.stdin)
	if interactive {
		r.print(r.app.stdout, SubtitleStyle.Render(fmt.Sprintf("scriptbox %s. %s discards the session, %s exits.",
			getVersionString(), resetCommand, quitCommand)))
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.app.stdin)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		if interactive {
			r.printInline(r.app.stdout, promptStyle.Render("› "))
		}
		var (
			line string
			ok   bool
		)
		select {
		case line, ok = <-lines:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			select {
			case err := <-scanErr:
				return err
			default:
				return nil
			}
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case quitCommand, exitCommand:
			return nil
		case resetCommand:
			if err := r.session.ResetAsync(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.print(r.app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, r.app.verbose))
				continue
			}
			r.print(r.app.stdout, SuccessStyle.Render("✓ session reset"))
			continue
		}

		if _, err := r.submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.print(r.app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, r.app.verbose))
		}
	}
}

// watch runs file, then runs it again in a fresh session after every change.
func (r *runner) watch(ctx context.Context, file string, patterns []string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	run := func(ctx context.Context) error {
		r.print(r.app.stdout, SubtitleStyle.Render(fmt.Sprintf("── %s %s ──", filepath.Base(abs), time.Now().Format(time.TimeOnly))))
		_, err := r.runFile(ctx, abs)
		return err
	}

	w, err := watch.New(watch.Config{
		BaseDir:  filepath.Dir(abs),
		Patterns: append([]string{filepath.Base(abs)}, patterns...),
		Logger:   r.logger.WithPrefix("watch"),
		OnChange: func(ctx context.Context, changed []string) error {
			r.logger.Info("re-running", "changed", changed)
			if err := r.session.ResetAsync(ctx); err != nil {
				return err
			}
			return run(ctx)
		},
	})
	if err != nil {
		return err
	}
	if err := run(ctx); err != nil && ctx.Err() == nil {
		r.print(r.app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, r.app.verbose))
	}
	return w.Run(ctx)
}

func (r *runner) onDump(n *resulttree.Node) {
	r.mu.Lock()
	if n.IsException() {
		if r.faultPending {
			r.faultPending = false
		} else {
			r.failed = true
		}
	}
	r.mu.Unlock()
	r.print(r.app.stdout, renderNode(n))
}

func (r *runner) onComplete(token int64) {
	r.mu.Lock()
	done, ok := r.pending[token]
	delete(r.pending, token)
	r.mu.Unlock()
	if ok {
		done <- nil
	}
}

func (r *runner) onDiagnostics(_ int64, diags []engine.Diagnostic) {
	if engine.HasErrors(diags) {
		r.mu.Lock()
		r.failed = true
		r.mu.Unlock()
	}
	r.print(r.app.stderr, renderDiagnostics(diags))
}

// onFault notes that the next exception belongs to an earlier submission.
func (r *runner) onFault(token int64, message string) {
	r.logger.Debug("fault from an earlier submission", "token", token, "message", message)
	r.mu.Lock()
	r.faultPending = true
	r.mu.Unlock()
}

// onLost fails the submissions the dead worker accepted but never
// completed.
func (r *runner) onLost(pid int, tokens []int64, cause error) {
	err := fmt.Errorf("%w (pid %d)", ErrWorkerLost, pid)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	r.print(r.app.stderr, WarningStyle.Render(fmt.Sprintf("worker %d exited; the next submission starts a new session", pid)))

	r.mu.Lock()
	owed := make([]chan error, 0, len(tokens))
	for _, token := range tokens {
		if done, ok := r.pending[token]; ok {
			delete(r.pending, token)
			owed = append(owed, done)
		}
	}
	r.mu.Unlock()
	for _, done := range owed {
		done <- err
	}
}

func (r *runner) print(w io.Writer, s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = io.WriteString(w, s+"\n")
}

func (r *runner) printInline(w io.Writer, s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = io.WriteString(w, s)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
