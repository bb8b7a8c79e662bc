// SPDX-License-Identifier: MPL-2.0

package host

import (
	"errors"
	"fmt"

	"github.com/invowk/scriptbox/internal/issue"
	"github.com/invowk/scriptbox/internal/supervisor"
)

var (
	// ErrWorkerUnavailable is returned when no worker could be started
	// within the attempt budget.
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrClosed is returned by a Controller after Close.
	ErrClosed = errors.New("controller closed")
	// ErrNoSpawner is returned when a Controller was built without a Spawner.
	ErrNoSpawner = errors.New("no worker spawner configured")

	errWorkerGone = errors.New("worker connection closed")
)

// UnavailableError reports every failed attempt to start a worker.
// It wraps ErrWorkerUnavailable and the attempt errors.
type UnavailableError struct {
	Attempts int
	Cause    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrWorkerUnavailable, e.Attempts, e.Cause)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrWorkerUnavailable, e.Cause}
}

// unavailable builds the user-facing error for an exhausted attempt budget.
func unavailable(errs []error) error {
	cause := &UnavailableError{Attempts: len(errs), Cause: errors.Join(errs...)}
	ctx := issue.NewErrorContext().
		WithOperation("start worker").
		WithIssue(issue.WorkerUnavailableId).
		Wrap(cause)
	switch {
	case errors.Is(cause, supervisor.ErrHandshakeTimeout):
		ctx.WithSuggestion("The worker started but was slow to signal readiness; raise handshake.timeout")
	case errors.Is(cause, supervisor.ErrWorkerExited):
		ctx.WithSuggestion("The worker exited during startup; rerun with SCRIPTBOX_LOG_LEVEL=debug to see its output")
	}
	return ctx.BuildError()
}
