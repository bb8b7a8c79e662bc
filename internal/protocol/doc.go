// SPDX-License-Identifier: MPL-2.0

// Package protocol implements the wire format between the host controller
// and its worker process.
//
// Every message is one JSON object on its own line. Control messages travel
// in Frame envelopes (request, response, event); result trees travel as
// Record values inside "dumped" events. The Emitter enforces the per-session
// dump cap and the ConsoleWriter turns console output into leaf records.
package protocol
