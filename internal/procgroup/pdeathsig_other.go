// SPDX-License-Identifier: MPL-2.0

//go:build unix && !linux

package procgroup

import "syscall"

// setParentDeathSignal is a no-op; the worker polls the controller PID instead.
func setParentDeathSignal(*syscall.SysProcAttr) {}
