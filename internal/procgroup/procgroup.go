// SPDX-License-Identifier: MPL-2.0

// Package procgroup guarantees that a worker process and everything it
// spawns terminate together.
//
// On POSIX systems the worker becomes the leader of a new process group and
// Close sends SIGKILL to the whole group. On Windows the worker is assigned
// to a job object created with JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE, so closing
// the job handle terminates every member.
package procgroup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ErrEnrollmentFailed is returned by AddProcess when the OS refused to enroll
// the process. The group still kills the process directly on Close.
var ErrEnrollmentFailed = errors.New("process group enrollment failed")

type (
	// Group owns a platform process-group resource.
	Group interface {
		// Prepare sets the attributes cmd needs before Start to be enrollable.
		Prepare(cmd *exec.Cmd)
		// AddProcess enrolls a started process. On failure the process is
		// tracked as unmanaged and killed directly by Close.
		AddProcess(p *os.Process) error
		// Close terminates every enrolled process still alive and releases the
		// group. Close is idempotent.
		Close() error
	}

	// EnrollmentError describes a failed AddProcess.
	// It wraps ErrEnrollmentFailed for errors.Is() compatibility.
	EnrollmentError struct {
		PID   int
		Cause error
	}

	// unmanaged tracks processes the OS refused to enroll.
	unmanaged struct {
		mu    sync.Mutex
		procs []*os.Process
	}
)

// New allocates a process group for the current platform.
func New() (Group, error) {
	g, err := newGroup()
	if err != nil {
		return nil, fmt.Errorf("create process group: %w", err)
	}
	return g, nil
}

// Error implements the error interface.
func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("enroll process %d: %v", e.PID, e.Cause)
}

// Unwrap returns ErrEnrollmentFailed and the cause for errors.Is() compatibility.
func (e *EnrollmentError) Unwrap() []error {
	return []error{ErrEnrollmentFailed, e.Cause}
}

func (u *unmanaged) add(p *os.Process) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.procs = append(u.procs, p)
}

// killAll kills every unmanaged process. Already-exited processes are ignored.
func (u *unmanaged) killAll() error {
	u.mu.Lock()
	procs := u.procs
	u.procs = nil
	u.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process %d: %w", p.Pid, err))
		}
	}
	return errors.Join(errs...)
}
