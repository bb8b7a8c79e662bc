// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/invowk/scriptbox/internal/engine"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// submissionName is the file name reported in parser errors.
const submissionName = "submission"

type (
	// Engine runs shell submissions against one persistent interpreter.
	Engine struct {
		runner   *interp.Runner
		out      engine.Output
		builtins map[string]builtinFunc
		lastLine atomic.Int64
		running  atomic.Bool

		mu    sync.Mutex
		fault error
	}

	// program is a parsed submission.
	program struct {
		source string
		file   *syntax.File
	}

	discardOutput struct{}
)

var (
	_ engine.Engine      = (*Engine)(nil)
	_ engine.FaultSource = (*Engine)(nil)
)

// New creates an engine. Initialize must be called before the first Run.
func New() *Engine {
	e := &Engine{out: discardOutput{}}
	e.builtins = map[string]builtinFunc{
		"dump":  e.dump,
		"throw": e.throw,
	}
	return e
}

// Initialize configures the session and loads every reference into it.
func (e *Engine) Initialize(ctx context.Context, opts engine.Options) error {
	dir := opts.WorkingDirectory
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(sessionEnv(os.Environ(), opts.Imports)...)),
		interp.StdIO(nil, io.Discard, io.Discard),
		interp.CallHandler(e.trackCall),
		interp.ExecHandlers(e.builtinMiddleware),
	)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}
	e.runner = runner

	resolver := opts.Resolver
	if resolver == nil {
		resolver = pathResolver(dir)
	}
	for _, name := range opts.References {
		if err := e.loadReference(ctx, resolver, name); err != nil {
			return err
		}
	}
	return nil
}

// Compile parses code. Parse failures are returned as diagnostics.
func (e *Engine) Compile(code string) (engine.Program, []engine.Diagnostic) {
	file, err := syntax.NewParser().Parse(strings.NewReader(code), submissionName)
	if err != nil {
		return nil, diagnosticsFor(err)
	}
	dumpTrailingArithmetic(file)
	return &program{source: code, file: file}, nil
}

// Run executes prog against the session, streaming its output to out.
func (e *Engine) Run(ctx context.Context, prog engine.Program, out engine.Output) error {
	if e.runner == nil {
		return errNotInitialized
	}
	p, ok := prog.(*program)
	if !ok {
		return fmt.Errorf("shell: cannot run program of type %T", prog)
	}
	if out == nil {
		out = discardOutput{}
	}

	e.setOutput(out)
	_ = interp.StdIO(nil, out.Stdout(), out.Stderr())(e.runner)
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.setOutput(discardOutput{})
		_ = interp.StdIO(nil, io.Discard, io.Discard)(e.runner)
	}()
	e.lastLine.Store(0)

	err := e.runner.Run(ctx, p.file)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return &ExitError{Status: int(status), Line: int(e.lastLine.Load())}
	}
	return err
}

// TakeFault returns and clears the last error thrown while no submission
// was running.
func (e *Engine) TakeFault() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.fault
	e.fault = nil
	return err
}

func (e *Engine) output() engine.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *Engine) setOutput(out engine.Output) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = out
}

// Source returns the submitted code.
func (p *program) Source() string { return p.source }

func (e *Engine) loadReference(ctx context.Context, resolver engine.Resolver, name string) error {
	path, err := resolver.Resolve(name)
	if err != nil {
		return &engine.UnresolvedReferenceError{Name: name, Cause: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return &engine.UnresolvedReferenceError{Name: name, Cause: err}
	}
	defer func() { _ = f.Close() }()

	file, err := syntax.NewParser().Parse(f, path)
	if err != nil {
		return fmt.Errorf("failed to parse reference %q: %w", name, err)
	}
	if err := e.runner.Run(ctx, file); err != nil {
		return fmt.Errorf("failed to load reference %q: %w", name, err)
	}
	return nil
}

func (e *Engine) trackCall(ctx context.Context, args []string) ([]string, error) {
	e.lastLine.Store(int64(interp.HandlerCtx(ctx).Pos.Line()))
	return args, nil
}

// pathResolver resolves reference names as paths relative to dir.
func pathResolver(dir string) engine.ResolverFunc {
	return func(name string) (string, error) {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
}

// sessionEnv prepends imports to PATH.
func sessionEnv(environ, imports []string) []string {
	if len(imports) == 0 {
		return environ
	}
	prefix := strings.Join(imports, string(os.PathListSeparator))
	env := make([]string, 0, len(environ)+1)
	found := false
	for _, kv := range environ {
		if value, ok := strings.CutPrefix(kv, "PATH="); ok {
			found = true
			if value != "" {
				kv = "PATH=" + prefix + string(os.PathListSeparator) + value
			} else {
				kv = "PATH=" + prefix
			}
		}
		env = append(env, kv)
	}
	if !found {
		env = append(env, "PATH="+prefix)
	}
	return env
}

func (discardOutput) Dump(string, any) {}
func (discardOutput) Stdout() io.Writer { return io.Discard }
func (discardOutput) Stderr() io.Writer { return io.Discard }
