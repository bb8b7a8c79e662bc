// SPDX-License-Identifier: MPL-2.0

// Package serverbase provides the lifecycle state machine shared by the
// long-running servers of scriptbox.
//
// A Base tracks the server state with atomic reads, owns the context that
// every server goroutine observes, and waits for those goroutines before
// reporting the server stopped.
package serverbase
