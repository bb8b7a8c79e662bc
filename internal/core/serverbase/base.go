// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base is embedded by servers to share lifecycle handling.
//
// A Base is single-use: once stopped or failed, create a new one.
type Base struct {
	state atomic.Int32

	mu      sync.Mutex
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	doneCh chan struct{}
	done   sync.Once
}

// New creates a Base in the Created state.
func New() *Base {
	b := &Base{
		doneCh: make(chan struct{}),
	}
	b.state.Store(int32(StateCreated))
	return b
}

// State returns the current state.
func (b *Base) State() State {
	return State(b.state.Load())
}

// IsRunning reports whether the server is in the Running state.
func (b *Base) IsRunning() bool {
	return b.State() == StateRunning
}

// LastError returns the error that failed the server, or nil.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Context returns the server context. It is nil before Begin.
func (b *Base) Context() context.Context {
	return b.ctx
}

// Begin moves the server from Created to Starting.
// It fails when ctx is already cancelled or the server was started before.
func (b *Base) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		b.Fail(fmt.Errorf("context cancelled before start: %w", err))
		return b.LastError()
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", b.State())
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// MarkRunning moves the server from Starting to Running.
func (b *Base) MarkRunning() {
	b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

// Fail records err, moves the server to Failed and cancels its context.
// Only the first failure is kept.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	if b.lastErr == nil {
		b.lastErr = err
	}
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if b.cancel != nil {
		b.cancel()
	}
	if b.ctx == nil {
		b.finish()
	}
}

// Shutdown requests a graceful stop. It reports whether this call moved
// the server to Stopping. A server that never started becomes Stopped.
func (b *Base) Shutdown() bool {
	for {
		current := b.State()
		switch current {
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				b.finish()
				return false
			}
		case StateStarting, StateRunning:
			if b.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				b.cancel()
				return true
			}
		default:
			return false
		}
	}
}

// Go runs fn on a tracked goroutine with the server context.
// Begin must have been called.
func (b *Base) Go(fn func(ctx context.Context)) {
	ctx := b.ctx
	b.wg.Go(func() { fn(ctx) })
}

// Wait blocks until every tracked goroutine returned, then marks the
// server Stopped unless it failed. It returns LastError.
func (b *Base) Wait() error {
	b.wg.Wait()
	b.state.CompareAndSwap(int32(StateStopping), int32(StateStopped))
	b.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
	b.state.CompareAndSwap(int32(StateStarting), int32(StateStopped))
	b.finish()
	return b.LastError()
}

// Done is closed when Wait returns, or immediately for a server that
// stopped or failed without starting.
func (b *Base) Done() <-chan struct{} {
	return b.doneCh
}

func (b *Base) finish() {
	b.done.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		close(b.doneCh)
	})
}
