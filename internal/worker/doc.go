// SPDX-License-Identifier: MPL-2.0

// Package worker is the code that runs inside a worker process.
//
// A Server listens on the endpoint chosen by the supervisor, signals
// readiness through the sync file, authenticates the controller and then
// hands every submission to a Service. The Service owns one goroutine that
// drains a FIFO queue, so submissions run strictly in order while the IPC
// reader never blocks on execution.
package worker
