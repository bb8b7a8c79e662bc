// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/invowk/scriptbox/internal/engine"
)

type (
	dumped struct {
		header string
		value  any
	}

	recordingOutput struct {
		dumps  []dumped
		stdout bytes.Buffer
		stderr bytes.Buffer
	}
)

func (o *recordingOutput) Dump(header string, value any) {
	o.dumps = append(o.dumps, dumped{header: header, value: value})
}

func (o *recordingOutput) Stdout() io.Writer { return &o.stdout }
func (o *recordingOutput) Stderr() io.Writer { return &o.stderr }

func newEngine(t *testing.T, opts engine.Options) *Engine {
	t.Helper()
	if opts.WorkingDirectory == "" {
		opts.WorkingDirectory = t.TempDir()
	}
	e := New()
	if err := e.Initialize(t.Context(), opts); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return e
}

func run(t *testing.T, e *Engine, code string) (*recordingOutput, error) {
	t.Helper()
	prog, diags := e.Compile(code)
	if len(diags) > 0 {
		t.Fatalf("Compile(%q) diagnostics = %v", code, diags)
	}
	out := &recordingOutput{}
	return out, e.Run(t.Context(), prog, out)
}

func TestTrailingArithmeticIsDumped(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	out, err := run(t, e, "((1+1))")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.dumps) != 1 {
		t.Fatalf("got %d dumps, want 1", len(out.dumps))
	}
	if got, ok := out.dumps[0].value.(int); !ok || got != 2 {
		t.Errorf("dumped %#v, want int 2", out.dumps[0].value)
	}
}

func TestSessionStatePersists(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	if _, err := run(t, e, "x=5"); err != nil {
		t.Fatalf("Run(x=5) error = %v", err)
	}
	out, err := run(t, e, "((x+1))")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.dumps) != 1 || out.dumps[0].value != 6 {
		t.Fatalf("dumps = %#v, want [6]", out.dumps)
	}

	if _, err := run(t, e, "greet() { echo \"hello $1\"; }"); err != nil {
		t.Fatalf("Run(func) error = %v", err)
	}
	out, err = run(t, e, "greet world")
	if err != nil {
		t.Fatalf("Run(greet) error = %v", err)
	}
	if got := out.stdout.String(); got != "hello world\n" {
		t.Errorf("stdout = %q, want %q", got, "hello world\n")
	}
}

func TestCompileReportsSyntaxErrors(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	prog, diags := e.Compile("if then")
	if prog != nil {
		t.Errorf("Compile() returned a program for invalid code")
	}
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if diags[0].Severity != engine.SeverityError {
		t.Errorf("Severity = %q, want %q", diags[0].Severity, engine.SeverityError)
	}
	if diags[0].Code != codeSyntax {
		t.Errorf("Code = %q, want %q", diags[0].Code, codeSyntax)
	}
	if diags[0].Line != 1 {
		t.Errorf("Line = %d, want 1", diags[0].Line)
	}
	if !engine.HasErrors(diags) {
		t.Error("HasErrors() = false, want true")
	}
}

func TestThrowRaisesScriptError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	out, err := run(t, e, "echo before\nthrow boom\necho after")

	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("Run() error = %v, want *ScriptError", err)
	}
	if scriptErr.Message != "boom" {
		t.Errorf("Message = %q, want %q", scriptErr.Message, "boom")
	}
	if scriptErr.LineNumber() != 2 {
		t.Errorf("LineNumber() = %d, want 2", scriptErr.LineNumber())
	}
	if got := out.stdout.String(); got != "before\n" {
		t.Errorf("stdout = %q, want %q", got, "before\n")
	}

	// The session survives a thrown error.
	out, err = run(t, e, "((3*3))")
	if err != nil {
		t.Fatalf("Run() after throw error = %v", err)
	}
	if len(out.dumps) != 1 || out.dumps[0].value != 9 {
		t.Errorf("dumps = %#v, want [9]", out.dumps)
	}
}

func TestNonZeroExitIsAnError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	_, err := run(t, e, "true\nfalse")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ExitError", err)
	}
	if exitErr.Status != 1 {
		t.Errorf("Status = %d, want 1", exitErr.Status)
	}
	if exitErr.LineNumber() != 2 {
		t.Errorf("LineNumber() = %d, want 2", exitErr.LineNumber())
	}
}

func TestDumpBuiltin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		code       string
		wantHeader string
		want       any
	}{
		{"scalar string", "dump hello", "", "hello"},
		{"header", "dump -h greeting hello", "greeting", "hello"},
		{"int kind", "dump --kind int -- -7", "", -7},
		{"bool kind", "dump --kind bool true", "", true},
		{"several values", "dump a b c", "", []string{"a", "b", "c"}},
		{"several ints", "dump --kind int 1 2", "", []int{1, 2}},
		{"string variable", "name=ada; dump -v name", "name", "ada"},
		{"indexed array", "arr=(x y); dump -v arr", "arr", []string{"x", "y"}},
		{"associative array", "declare -A m=([k]=v); dump -v m", "m", map[string]string{"k": "v"}},
		{"unset variable", "dump -v missing", "missing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEngine(t, engine.Options{})
			out, err := run(t, e, tt.code)
			if err != nil {
				t.Fatalf("Run(%q) error = %v", tt.code, err)
			}
			if len(out.dumps) != 1 {
				t.Fatalf("got %d dumps, want 1", len(out.dumps))
			}
			if out.dumps[0].header != tt.wantHeader {
				t.Errorf("header = %q, want %q", out.dumps[0].header, tt.wantHeader)
			}
			if !reflect.DeepEqual(out.dumps[0].value, tt.want) {
				t.Errorf("value = %#v, want %#v", out.dumps[0].value, tt.want)
			}
		})
	}
}

func TestDumpBuiltinUsageErrors(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"dump", "dump --kind int abc", "dump --kind float 1", "dump -v x extra"} {
		t.Run(code, func(t *testing.T) {
			t.Parallel()

			e := newEngine(t, engine.Options{})
			out, err := run(t, e, code)
			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Status != usageStatus {
				t.Fatalf("Run(%q) error = %v, want exit status %d", code, err, usageStatus)
			}
			if len(out.dumps) != 0 {
				t.Errorf("got %d dumps, want 0", len(out.dumps))
			}
			if !strings.HasPrefix(out.stderr.String(), "dump: ") {
				t.Errorf("stderr = %q, want dump usage message", out.stderr.String())
			}
		})
	}
}

func TestReferencesAreLoaded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.sh")
	if err := os.WriteFile(lib, []byte("double() { echo $(( $1 * 2 )); }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newEngine(t, engine.Options{WorkingDirectory: dir, References: []string{"lib.sh"}})
	out, err := run(t, e, "double 21")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := out.stdout.String(); got != "42\n" {
		t.Errorf("stdout = %q, want %q", got, "42\n")
	}
}

func TestUnresolvedReference(t *testing.T) {
	t.Parallel()

	e := New()
	err := e.Initialize(t.Context(), engine.Options{
		WorkingDirectory: t.TempDir(),
		References:       []string{"missing.sh"},
	})
	if !errors.Is(err, engine.ErrUnresolvedReference) {
		t.Fatalf("Initialize() error = %v, want ErrUnresolvedReference", err)
	}
}

func TestImportsExtendPath(t *testing.T) {
	t.Parallel()

	env := sessionEnv([]string{"HOME=/home/u", "PATH=/usr/bin"}, []string{"/opt/a", "/opt/b"})
	sep := string(os.PathListSeparator)
	want := "PATH=/opt/a" + sep + "/opt/b" + sep + "/usr/bin"
	if env[1] != want {
		t.Errorf("PATH entry = %q, want %q", env[1], want)
	}

	env = sessionEnv([]string{"HOME=/home/u"}, []string{"/opt/a"})
	if env[len(env)-1] != "PATH=/opt/a" {
		t.Errorf("PATH entry = %q, want %q", env[len(env)-1], "PATH=/opt/a")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	prog, diags := e.Compile("while true; do :; done")
	if len(diags) > 0 {
		t.Fatalf("Compile() diagnostics = %v", diags)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := e.Run(ctx, prog, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestBackgroundThrowIsKeptAsFault(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Options{})
	if _, err := run(t, e, "{ sleep 0.2; throw late; } &"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := e.TakeFault(); err != nil {
			var scriptErr *ScriptError
			if !errors.As(err, &scriptErr) || scriptErr.Message != "late" {
				t.Fatalf("TakeFault() = %v, want script error %q", err, "late")
			}
			if again := e.TakeFault(); again != nil {
				t.Errorf("second TakeFault() = %v, want nil", again)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("background fault was never recorded")
}
