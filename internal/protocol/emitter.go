// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"sync"

	"github.com/invowk/scriptbox/internal/resulttree"
)

// DefaultMaxDumpsPerSession is the dump cap used when none is configured.
const DefaultMaxDumpsPerSession = 10_000

// Emitter sends records and enforces the per-session dump cap.
//
// The first limit records are sent. The next one is replaced by exactly one
// sentinel record and everything after it is dropped for the lifetime of the
// Emitter.
type Emitter struct {
	send func(*Record) error

	mu      sync.Mutex
	limit   int
	sent    int
	capped  bool
	dropped int
}

// NewEmitter creates an Emitter that passes records to send.
// A non-positive limit selects DefaultMaxDumpsPerSession.
func NewEmitter(limit int, send func(*Record) error) *Emitter {
	if limit <= 0 {
		limit = DefaultMaxDumpsPerSession
	}
	return &Emitter{send: send, limit: limit}
}

// EmitNode converts n and emits it.
func (e *Emitter) EmitNode(n *resulttree.Node) error {
	return e.Emit(FromNode(n))
}

// Emit sends r unless the cap was reached. Records are sent in call order.
func (e *Emitter) Emit(r *Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capped {
		e.dropped++
		return nil
	}
	if e.sent >= e.limit {
		e.capped = true
		e.dropped++
		return e.send(Sentinel())
	}
	e.sent++
	return e.send(r)
}

// Sent returns the number of records sent, excluding the sentinel.
func (e *Emitter) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// Dropped returns the number of records discarded because of the cap.
func (e *Emitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Capped reports whether the sentinel has been emitted.
func (e *Emitter) Capped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capped
}
