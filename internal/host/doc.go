// SPDX-License-Identifier: MPL-2.0

// Package host owns the worker of one interactive session.
//
// A Controller lazily starts a worker through its Spawner, forwards
// submissions to it and delivers the streamed results to the registered
// handlers. A worker that dies is replaced on the next submission, and
// ResetAsync discards the session by tearing the worker down.
package host
