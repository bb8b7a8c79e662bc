// SPDX-License-Identifier: MPL-2.0

//go:build windows

package procgroup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// jobGroup wraps a job object that kills its members when closed.
type jobGroup struct {
	mu     sync.Mutex
	job    windows.Handle
	closed bool

	fallback unmanaged
}

func newGroup() (*jobGroup, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateJobObject: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return nil, fmt.Errorf("SetInformationJobObject: %w", err)
	}

	return &jobGroup{job: job}, nil
}

// Prepare is a no-op; processes are assigned after they start.
func (g *jobGroup) Prepare(*exec.Cmd) {}

// AddProcess assigns p to the job object.
func (g *jobGroup) AddProcess(p *os.Process) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		_ = p.Kill()
		return &EnrollmentError{PID: p.Pid, Cause: errors.New("group already closed")}
	}

	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(p.Pid))
	if err != nil {
		g.fallback.add(p)
		return &EnrollmentError{PID: p.Pid, Cause: fmt.Errorf("OpenProcess: %w", err)}
	}
	defer windows.CloseHandle(h)

	if err := windows.AssignProcessToJobObject(g.job, h); err != nil {
		g.fallback.add(p)
		return &EnrollmentError{PID: p.Pid, Cause: fmt.Errorf("AssignProcessToJobObject: %w", err)}
	}
	return nil
}

// Close releases the job handle, which terminates every member.
func (g *jobGroup) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	job := g.job
	g.job = 0
	g.mu.Unlock()

	var errs []error
	if job != 0 {
		if err := windows.CloseHandle(job); err != nil {
			errs = append(errs, fmt.Errorf("close job object: %w", err))
		}
	}
	if err := g.fallback.killAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
