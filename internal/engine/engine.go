// SPDX-License-Identifier: MPL-2.0

// Package engine defines the boundary between the worker and the code
// compiler it hosts.
//
// The worker only sees an Engine: it compiles a submission, reports
// diagnostics when compilation fails, and otherwise runs the program against
// a session whose state persists between submissions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// SeverityError marks a diagnostic that prevents execution.
	SeverityError Severity = "Error"
	// SeverityWarning marks a diagnostic that does not prevent execution.
	SeverityWarning Severity = "Warning"
)

// ErrUnresolvedReference is returned when a Resolver cannot locate a reference.
var ErrUnresolvedReference = errors.New("unresolved reference")

type (
	// Severity classifies a diagnostic.
	Severity string

	// Diagnostic is one compiler finding.
	Diagnostic struct {
		Severity Severity `json:"severity"`
		Code     string   `json:"code"`
		Message  string   `json:"message"`
		Line     int      `json:"line"`
		Column   int      `json:"column"`
	}

	// Resolver maps a reference name to a filesystem path.
	Resolver interface {
		Resolve(name string) (string, error)
	}

	// ResolverFunc adapts a function to the Resolver interface.
	ResolverFunc func(name string) (string, error)

	// Options configures a session before the first submission.
	Options struct {
		// References are resolved through Resolver and loaded into the session.
		References []string
		// Imports are made available to every submission.
		Imports []string
		// WorkingDirectory is the initial directory of the session.
		WorkingDirectory string
		// Resolver locates References. Nil resolves names as paths.
		Resolver Resolver
	}

	// Output receives everything a running submission produces.
	Output interface {
		// Dump streams one value back to the controller.
		Dump(header string, value any)
		// Stdout receives console output.
		Stdout() io.Writer
		// Stderr receives console error output.
		Stderr() io.Writer
	}

	// Program is a compiled submission.
	Program interface {
		Source() string
	}

	// Engine compiles and runs submissions against one persistent session.
	// Calls are never concurrent.
	Engine interface {
		Initialize(ctx context.Context, opts Options) error
		// Compile returns diagnostics instead of a program when code cannot run.
		Compile(code string) (Program, []Diagnostic)
		// Run executes prog. A returned error is a runtime fault of the
		// submission; the session stays usable.
		Run(ctx context.Context, prog Program, out Output) error
	}

	// FaultSource is implemented by engines that observe faults raised
	// after a submission returned, such as by background jobs.
	FaultSource interface {
		// TakeFault returns and clears the pending fault, or nil.
		TakeFault() error
	}

	// UnresolvedReferenceError is returned when a reference cannot be located.
	// It wraps ErrUnresolvedReference for errors.Is() compatibility.
	UnresolvedReferenceError struct {
		Name  string
		Cause error
	}
)

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) (string, error) { return f(name) }

// HasErrors reports whether any diagnostic prevents execution.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// String renders the diagnostic as "line:col: severity code: message".
func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s %s: %s", d.Line, d.Column, d.Severity, d.Code, d.Message)
}

// Error implements the error interface.
func (e *UnresolvedReferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unresolved reference %q: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("unresolved reference %q", e.Name)
}

// Unwrap returns ErrUnresolvedReference for errors.Is() compatibility.
func (e *UnresolvedReferenceError) Unwrap() []error {
	return []error{ErrUnresolvedReference, e.Cause}
}
