// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/protocol"
	"github.com/invowk/scriptbox/internal/resulttree"
	"github.com/invowk/scriptbox/internal/supervisor"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxAttemptsToCreateProcess is the default number of spawn attempts per
// ExecuteAsync or ResetAsync call. Attempts are not delayed.
const MaxAttemptsToCreateProcess = 2

// sendAttempts bounds how often ExecuteAsync replaces a worker that failed
// to accept a submission.
const sendAttempts = 2

// DefaultAcceptTimeout bounds the wait for a worker to acknowledge a
// submission. The worker acknowledges before running anything, so only a
// wedged worker hits it.
const DefaultAcceptTimeout = 10 * time.Second

const (
	// NoWorker means no live worker is installed.
	NoWorker State = iota
	// Starting means a worker is being spawned.
	Starting
	// Ready means a live worker accepts submissions.
	Ready
)

type (
	// State is the worker state of a session.
	State int

	// Spawner starts one worker per call. *supervisor.Supervisor
	// implements it.
	Spawner interface {
		Spawn(ctx context.Context) (*supervisor.Worker, error)
	}

	// DumpHandler receives every result streamed by the worker.
	DumpHandler func(n *resulttree.Node)
	// CompletionHandler receives the token of every finished submission.
	CompletionHandler func(token int64)
	// DiagnosticsHandler receives the compiler findings of a submission
	// that was not executed.
	DiagnosticsHandler func(token int64, diags []engine.Diagnostic)
	// FaultHandler receives faults left behind by earlier submissions.
	FaultHandler func(token int64, message string)
	// LostHandler is told when a worker died without being closed. tokens
	// are the accepted submissions that never completed, in submission
	// order; they never will.
	LostHandler func(pid int, tokens []int64, err error)

	// Option configures a Controller.
	Option func(*Controller)

	// Controller runs submissions of one session on a worker process.
	//
	// Handlers are called from a reader goroutine in the order the worker
	// sent the events. They must not call Close.
	Controller struct {
		spawner       Spawner
		logger        *log.Logger
		maxAttempts   int
		acceptTimeout time.Duration
		registerer    prometheus.Registerer
		metrics       *metrics

		onDump        DumpHandler
		onComplete    CompletionHandler
		onDiagnostics DiagnosticsHandler
		onFault       FaultHandler
		onLost        LostHandler

		current  atomic.Pointer[handle]
		starting atomic.Int32
		closed   atomic.Bool
		readers  sync.WaitGroup
	}

	// handle is one installed worker.
	handle struct {
		worker  *supervisor.Worker
		dead    atomic.Bool
		closing atomic.Bool
		// gone is closed when the reader stops.
		gone chan struct{}

		mu       sync.Mutex
		acks     map[string]pendingAck
		inflight []int64
	}

	// pendingAck waits for the response to one execute request.
	pendingAck struct {
		token int64
		done  chan error
	}
)

// WithLogger sets the controller logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMaxAttempts overrides MaxAttemptsToCreateProcess. Values below 1 are
// ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAcceptTimeout overrides DefaultAcceptTimeout. Values below 1 are
// ignored.
func WithAcceptTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.acceptTimeout = d
		}
	}
}

// WithRegisterer registers the controller metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Controller) { c.registerer = reg }
}

// WithDumpHandler sets the Dumped event handler.
func WithDumpHandler(fn DumpHandler) Option {
	return func(c *Controller) { c.onDump = fn }
}

// WithCompletionHandler sets the ExecutionCompleted event handler.
func WithCompletionHandler(fn CompletionHandler) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// WithDiagnosticsHandler sets the compile failure handler.
func WithDiagnosticsHandler(fn DiagnosticsHandler) Option {
	return func(c *Controller) { c.onDiagnostics = fn }
}

// WithFaultHandler sets the unhandled fault handler.
func WithFaultHandler(fn FaultHandler) Option {
	return func(c *Controller) { c.onFault = fn }
}

// WithLostHandler sets the worker loss handler.
func WithLostHandler(fn LostHandler) Option {
	return func(c *Controller) { c.onLost = fn }
}

// New creates a controller. No worker is started until the first
// submission or reset.
func New(spawner Spawner, opts ...Option) *Controller {
	c := &Controller{
		spawner:       spawner,
		maxAttempts:   MaxAttemptsToCreateProcess,
		acceptTimeout: DefaultAcceptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "host"})
	}
	c.metrics = newMetrics(c.registerer)
	return c
}

// String returns the state name.
func (s State) String() string {
	switch s {
	case NoWorker:
		return "no-worker"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// State reports the current worker state.
func (c *Controller) State() State {
	if h := c.current.Load(); h != nil && h.ready() {
		return Ready
	}
	if c.starting.Load() > 0 {
		return Starting
	}
	return NoWorker
}

// ExecuteAsync sends code to the session's worker, starting one when none
// is ready. It returns once the worker acknowledged the submission, not
// when it completed; results arrive through the handlers. A worker that
// dies before acknowledging is replaced and the submission is sent again.
func (c *Controller) ExecuteAsync(ctx context.Context, code string, token int64) error {
	params := protocol.ExecuteParams{Code: code, Token: token}

	var errs []error
	for range sendAttempts {
		h, err := c.ensureWorker(ctx)
		if err != nil {
			return err
		}
		err = c.submit(ctx, h, params)
		if err == nil {
			c.metrics.submissions.Inc()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("worker did not accept submission", "pid", h.worker.PID, "token", token, "error", err)
		errs = append(errs, err)
		c.retire(h)
	}
	return unavailable(errs)
}

// submit sends one execute request to h and waits for its acknowledgement.
func (c *Controller) submit(ctx context.Context, h *handle, params protocol.ExecuteParams) error {
	req, err := protocol.NewRequest(protocol.KindExecute, params)
	if err != nil {
		return err
	}
	done := h.expect(req.ID, params.Token)
	defer h.forget(req.ID)

	if err := h.worker.Conn().Send(req); err != nil {
		return err
	}

	timer := time.NewTimer(c.acceptTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-h.gone:
		// The acknowledgement may have been dispatched just before the
		// reader stopped.
		select {
		case err := <-done:
			return err
		default:
		}
		return fmt.Errorf("worker %d stopped before accepting the submission: %w", h.worker.PID, errWorkerGone)
	case <-timer.C:
		return fmt.Errorf("worker %d did not accept the submission within %s", h.worker.PID, c.acceptTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetAsync discards the session: the current worker is killed with its
// process group, whatever it is running, and a fresh worker is started.
func (c *Controller) ResetAsync(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.metrics.resets.Inc()
	if old := c.current.Swap(nil); old != nil {
		c.logger.Debug("resetting session", "pid", old.worker.PID)
		if err := old.close(); err != nil {
			c.logger.Warn("failed to tear down worker", "pid", old.worker.PID, "error", err)
		}
	}
	_, err := c.ensureWorker(ctx)
	return err
}

// Close kills the current worker and waits for its reader. Later calls
// return ErrClosed.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var err error
	if h := c.current.Swap(nil); h != nil {
		err = h.close()
	}
	c.readers.Wait()
	return err
}

// ensureWorker returns the installed worker, installing a new one when it
// is missing or dead. Concurrent callers race with CompareAndSwap and the
// losers close their candidates.
func (c *Controller) ensureWorker(ctx context.Context) (*handle, error) {
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		old := c.current.Load()
		if old != nil && old.ready() {
			return old, nil
		}

		h, err := c.spawn(ctx)
		if err != nil {
			return nil, err
		}
		if !c.current.CompareAndSwap(old, h) {
			c.logger.Debug("discarding worker started concurrently", "pid", h.worker.PID)
			_ = h.close()
			continue
		}
		if c.closed.Load() {
			if c.current.CompareAndSwap(h, nil) {
				_ = h.close()
			}
			return nil, ErrClosed
		}
		if old != nil {
			_ = old.close()
		}
		c.readers.Go(func() { c.read(h) })
		return h, nil
	}
}

// spawn starts a worker within the attempt budget.
func (c *Controller) spawn(ctx context.Context) (*handle, error) {
	if c.spawner == nil {
		return nil, ErrNoSpawner
	}
	c.starting.Add(1)
	defer c.starting.Add(-1)

	var errs []error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		w, err := c.spawner.Spawn(ctx)
		if err == nil {
			c.metrics.spawns.Inc()
			c.metrics.spawnSeconds.Observe(time.Since(start).Seconds())
			c.logger.Debug("worker ready", "pid", w.PID, "attempt", attempt)
			return newHandle(w), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.metrics.spawnFailures.Inc()
		c.logger.Warn("failed to start worker", "attempt", attempt, "of", c.maxAttempts, "error", err)
		errs = append(errs, err)
	}
	return nil, unavailable(errs)
}

// retire uninstalls a handle that stopped accepting submissions.
func (c *Controller) retire(h *handle) {
	if c.current.CompareAndSwap(h, nil) {
		c.metrics.crashes.Inc()
	}
	_ = h.close()
}

// read delivers the worker's events until its connection ends.
func (c *Controller) read(h *handle) {
	defer close(h.gone)
	conn := h.worker.Conn()
	for {
		f, err := conn.Receive()
		if err != nil {
			c.lost(h, err)
			return
		}
		c.dispatch(h, f)
	}
}

// lost marks h dead after its connection ended. Unless the controller
// closed it, the worker is torn down and the session is left without one.
func (c *Controller) lost(h *handle, err error) {
	h.dead.Store(true)
	if h.closing.Load() {
		return
	}
	if c.current.CompareAndSwap(h, nil) {
		c.metrics.crashes.Inc()
	}
	_ = h.close()
	if errors.Is(err, io.EOF) {
		err = h.worker.ExitErr()
	}
	tokens := h.unfinished()
	c.logger.Warn("worker lost", "pid", h.worker.PID, "unfinished", len(tokens), "error", err)
	if c.onLost != nil {
		c.onLost(h.worker.PID, tokens, err)
	}
}

func (c *Controller) dispatch(h *handle, f protocol.Frame) {
	if f.Type == protocol.FrameResponse {
		if f.Kind == protocol.KindExecute {
			h.accepted(f.ID, f.Err())
		} else {
			c.logger.Debug("ignoring response", "kind", f.Kind)
		}
		return
	}
	switch f.Kind {
	case protocol.KindDumped:
		rec, err := protocol.Decode[protocol.Record](f)
		if err != nil {
			c.logger.Error("dropping undecodable result", "error", err)
			return
		}
		c.countDump(&rec)
		if c.onDump != nil {
			c.onDump(rec.Node())
		}
	case protocol.KindCompleted:
		ev, err := protocol.Decode[protocol.CompletedEvent](f)
		if err != nil {
			c.logger.Error("dropping undecodable completion", "error", err)
			return
		}
		c.metrics.completions.Inc()
		h.finished(ev.Token)
		if c.onComplete != nil {
			c.onComplete(ev.Token)
		}
	case protocol.KindDiagnostics:
		ev, err := protocol.Decode[protocol.DiagnosticsEvent](f)
		if err != nil {
			c.logger.Error("dropping undecodable diagnostics", "error", err)
			return
		}
		c.metrics.diagnostics.Inc()
		if c.onDiagnostics != nil {
			c.onDiagnostics(ev.Token, ev.Diagnostics)
		}
	case protocol.KindFault:
		ev, err := protocol.Decode[protocol.FaultEvent](f)
		if err != nil {
			c.logger.Error("dropping undecodable fault", "error", err)
			return
		}
		c.metrics.faults.Inc()
		c.logger.Debug("unhandled fault reported", "token", ev.Token, "message", ev.Message)
		if c.onFault != nil {
			c.onFault(ev.Token, ev.Message)
		}
	default:
		c.logger.Debug("ignoring frame", "type", f.Type, "kind", f.Kind)
	}
}

func (c *Controller) countDump(rec *protocol.Record) {
	kind := "value"
	switch {
	case rec.IsSentinel():
		kind = "sentinel"
	case rec.Kind == protocol.ExceptionType:
		kind = "exception"
	case rec.T != nil && *rec.T == protocol.ConsoleType:
		kind = "console"
	}
	c.metrics.dumps.WithLabelValues(kind).Inc()
}

func newHandle(w *supervisor.Worker) *handle {
	return &handle{
		worker: w,
		gone:   make(chan struct{}),
		acks:   make(map[string]pendingAck),
	}
}

// expect registers a pending acknowledgement for request id.
func (h *handle) expect(id string, token int64) <-chan error {
	done := make(chan error, 1)
	h.mu.Lock()
	h.acks[id] = pendingAck{token: token, done: done}
	h.mu.Unlock()
	return done
}

func (h *handle) forget(id string) {
	h.mu.Lock()
	delete(h.acks, id)
	h.mu.Unlock()
}

// accepted resolves the acknowledgement of request id. An accepted
// submission is owed a completion by this worker.
func (h *handle) accepted(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.acks[id]
	if !ok {
		return
	}
	delete(h.acks, id)
	if err == nil {
		h.inflight = append(h.inflight, p.token)
	}
	p.done <- err
}

func (h *handle) finished(token int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := slices.Index(h.inflight, token); i >= 0 {
		h.inflight = slices.Delete(h.inflight, i, i+1)
	}
}

// unfinished returns the accepted submissions still owed a completion.
func (h *handle) unfinished() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.inflight)
}

// ready reports whether h can take submissions.
func (h *handle) ready() bool {
	return !h.dead.Load() && h.worker.Alive()
}

// close kills the worker. The reader sees the closed connection and exits
// without reporting a crash.
func (h *handle) close() error {
	h.closing.Store(true)
	h.dead.Store(true)
	return h.worker.Close()
}
