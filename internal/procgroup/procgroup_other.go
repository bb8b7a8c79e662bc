// SPDX-License-Identifier: MPL-2.0

//go:build !unix && !windows

package procgroup

import (
	"errors"
	"os"
	"os/exec"
)

// directGroup has no OS grouping facility and kills members one by one.
type directGroup struct {
	fallback unmanaged
}

func newGroup() (*directGroup, error) {
	return &directGroup{}, nil
}

func (g *directGroup) Prepare(*exec.Cmd) {}

func (g *directGroup) AddProcess(p *os.Process) error {
	g.fallback.add(p)
	return &EnrollmentError{PID: p.Pid, Cause: errors.New("process groups are not supported on this platform")}
}

func (g *directGroup) Close() error {
	return g.fallback.killAll()
}
