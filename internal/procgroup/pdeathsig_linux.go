// SPDX-License-Identifier: MPL-2.0

//go:build linux

package procgroup

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setParentDeathSignal kills the worker when the controller dies.
func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = unix.SIGKILL
}
