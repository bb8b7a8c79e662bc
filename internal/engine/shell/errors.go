// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"errors"
	"fmt"
)

var errNotInitialized = errors.New("shell: engine is not initialized")

type (
	// ScriptError is raised by the throw builtin.
	ScriptError struct {
		Message string
		Line    int
	}

	// ExitError reports a submission whose last command exited non-zero.
	ExitError struct {
		Status int
		Line   int
	}
)

// Error implements the error interface.
func (e *ScriptError) Error() string { return e.Message }

// LineNumber returns the line of the throw call.
func (e *ScriptError) LineNumber() int { return e.Line }

// Error implements the error interface.
func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Status) }

// LineNumber returns the line of the last command that ran.
func (e *ExitError) LineNumber() int { return e.Line }
