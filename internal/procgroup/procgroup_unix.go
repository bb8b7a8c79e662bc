// SPDX-License-Identifier: MPL-2.0

//go:build unix

package procgroup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// posixGroup kills enrolled process groups with SIGKILL on Close.
type posixGroup struct {
	mu     sync.Mutex
	pgids  []int
	closed bool

	fallback unmanaged
}

func newGroup() (*posixGroup, error) {
	return &posixGroup{}, nil
}

// Prepare makes cmd the leader of a new process group.
func (g *posixGroup) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pgid = 0
	setParentDeathSignal(cmd.SysProcAttr)
}

// AddProcess enrolls p. p must have been started with a prepared command,
// otherwise it shares the caller's group and is only tracked as unmanaged.
// A process added after Close is killed along with its group.
func (g *posixGroup) AddProcess(p *os.Process) error {
	pgid, err := unix.Getpgid(p.Pid)
	if err == nil && pgid != p.Pid {
		err = fmt.Errorf("process leads no group of its own (pgid %d)", pgid)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		if err == nil {
			_ = unix.Kill(-pgid, unix.SIGKILL)
		}
		_ = p.Kill()
		return &EnrollmentError{PID: p.Pid, Cause: errors.New("group already closed")}
	}
	if err != nil {
		g.fallback.add(p)
		return &EnrollmentError{PID: p.Pid, Cause: err}
	}
	g.pgids = append(g.pgids, pgid)
	return nil
}

// Close sends SIGKILL to every enrolled group.
func (g *posixGroup) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	pgids := g.pgids
	g.pgids = nil
	g.mu.Unlock()

	var errs []error
	for _, pgid := range pgids {
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill process group %d: %w", pgid, err))
		}
	}
	if err := g.fallback.killAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
