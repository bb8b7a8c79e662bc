// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/invowk/scriptbox/internal/procgroup"
	"github.com/invowk/scriptbox/internal/protocol"
)

// reapTimeout bounds how long Close waits for a killed worker to exit.
const reapTimeout = 5 * time.Second

// Worker is a started worker process.
type Worker struct {
	// PID is the worker process id.
	PID int

	cmd     *exec.Cmd
	group   procgroup.Group
	attempt attempt
	conn    *protocol.Conn

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func newWorker(cmd *exec.Cmd, group procgroup.Group, a attempt) *Worker {
	w := &Worker{
		PID:     cmd.Process.Pid,
		cmd:     cmd,
		group:   group,
		attempt: a,
		exited:  make(chan struct{}),
	}
	go func() {
		w.waitErr = cmd.Wait()
		close(w.exited)
	}()
	return w
}

// Conn returns the authenticated connection to the worker.
func (w *Worker) Conn() *protocol.Conn {
	return w.conn
}

// Exited is closed once the worker process has exited.
func (w *Worker) Exited() <-chan struct{} {
	return w.exited
}

// Alive reports whether the worker process is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error of an exited worker, or nil while it runs.
func (w *Worker) ExitErr() error {
	select {
	case <-w.exited:
		return w.waitErr
	default:
		return nil
	}
}

// Close disconnects from the worker, kills its process group and removes
// the files of its attempt. Close is idempotent.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		var errs []error
		if w.conn != nil {
			_ = w.conn.Close()
		}
		if err := w.group.Close(); err != nil {
			errs = append(errs, err)
		}
		select {
		case <-w.exited:
		case <-time.After(reapTimeout):
			if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, err)
			}
		}
		_ = os.Remove(w.attempt.syncPath)
		if w.attempt.endpoint.Network == protocol.NetworkUnix {
			_ = os.Remove(w.attempt.endpoint.Address)
		}
		w.closeErr = errors.Join(errs...)
	})
	return w.closeErr
}
