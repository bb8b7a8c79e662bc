// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "start worker"},
			expected: "failed to start worker",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load config", Resource: "/etc/scriptbox/config.cue"},
			expected: "failed to load config: /etc/scriptbox/config.cue",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "start worker",
				Resource:  "/tmp/state",
				Cause:     errors.New("worker exited"),
			},
			expected: "failed to start worker: /tmp/state: worker exited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := fmt.Errorf("outer: %w", NewErrorContext().WithOperation("test").Wrap(sentinel).BuildError())

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the wrapped cause")
	}
	ae, ok := AsActionable(err)
	if !ok || ae.Operation != "test" {
		t.Errorf("AsActionable() = %v, %v", ae, ok)
	}
	if _, ok := AsActionable(sentinel); ok {
		t.Error("AsActionable() should fail for a plain error")
	}
	if (&ActionableError{Operation: "test"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name: "suggestions",
			err: &ActionableError{
				Operation:   "start worker",
				Suggestions: []string{"Check the state directory", "Raise max_attempts"},
			},
			contains: []string{"• Check the state directory", "• Raise max_attempts"},
			excludes: []string{"scriptbox issues"},
		},
		{
			name:     "issue reference",
			err:      &ActionableError{Operation: "start worker", Issue: WorkerUnavailableId},
			contains: []string{"• Run 'scriptbox issues worker-unavailable' for details"},
		},
		{
			name:     "unknown issue is ignored",
			err:      &ActionableError{Operation: "start worker", Issue: Id(9999)},
			excludes: []string{"scriptbox issues", "•"},
		},
		{
			name: "chain only when verbose",
			err: &ActionableError{
				Operation: "reset session",
				Cause:     &ActionableError{Operation: "start worker", Cause: errors.New("exited")},
			},
			verbose:  true,
			contains: []string{"Error chain:", "1. failed to start worker: exited", "2. exited"},
		},
		{
			name:     "no chain when not verbose",
			err:      &ActionableError{Operation: "reset session", Cause: errors.New("exited")},
			contains: []string{"failed to reset session: exited"},
			excludes: []string{"Error chain:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.err.Format(tt.verbose)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Format() missing %q\ngot:\n%s", s, got)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Format() should not contain %q\ngot:\n%s", s, got)
				}
			}
		})
	}
}

func TestActionableError_FormatDoesNotMutateSuggestions(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation:   "start worker",
		Suggestions: make([]string, 1, 4),
		Issue:       HandshakeTimeoutId,
	}
	err.Suggestions[0] = "first"
	_ = err.Format(false)

	if len(err.Suggestions) != 1 || !err.HasSuggestions() {
		t.Errorf("Suggestions = %v, want one entry", err.Suggestions)
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without operation should return nil")
	}

	cause := errors.New("boom")
	ctx := NewErrorContext().
		WithOperation("load config").
		WithResource("config.cue").
		WithSuggestion("one").
		WithSuggestions("two", "three").
		WithIssue(ConfigLoadFailedId).
		Wrap(cause)
	ae := ctx.Build()

	if ae.Operation != "load config" || ae.Resource != "config.cue" || ae.Issue != ConfigLoadFailedId {
		t.Errorf("Build() = %+v", ae)
	}
	if len(ae.Suggestions) != 3 {
		t.Errorf("Suggestions = %v, want 3 entries", ae.Suggestions)
	}
	if !errors.Is(ae, cause) {
		t.Error("Build() should keep the cause")
	}

	// Reusing the builder must not leak into errors already built.
	_ = ctx.WithSuggestion("four").Build()
	if len(ae.Suggestions) != 3 {
		t.Errorf("earlier error changed: %v", ae.Suggestions)
	}
}

func TestWrapWithOperation(t *testing.T) {
	t.Parallel()

	if WrapWithOperation(nil, "x") != nil {
		t.Error("WrapWithOperation(nil) should return nil")
	}
	cause := errors.New("cause")
	ae := WrapWithOperation(cause, "execute submission")
	if ae.Operation != "execute submission" || !errors.Is(ae, cause) {
		t.Errorf("WrapWithOperation() = %+v", ae)
	}
	if NewActionableError("op").Operation != "op" {
		t.Error("NewActionableError() lost the operation")
	}
}
