// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/protocol"
	"github.com/invowk/scriptbox/internal/resulttree"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/panics"
)

// unhandledFaultHeader heads the exception dumped for a fault left behind
// by an earlier submission.
const unhandledFaultHeader = "Unhandled fault"

type (
	// Sender delivers frames to the controller. *protocol.Conn satisfies it.
	Sender interface {
		Send(f protocol.Frame) error
	}

	// Service executes submissions one at a time on a dedicated goroutine.
	Service struct {
		engine engine.Engine
		send   Sender
		logger *log.Logger
		queue  *queue

		mu      sync.Mutex
		quotas  resulttree.Quotas
		emitter *protocol.Emitter
	}

	// ServiceOption configures a Service.
	ServiceOption func(*Service)

	// output adapts the emitter to engine.Output for one submission.
	output struct {
		emitter *protocol.Emitter
		quotas  resulttree.Quotas
		stdout  *protocol.ConsoleWriter
		stderr  *protocol.ConsoleWriter
	}
)

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service that runs code on eng and reports to send.
func NewService(eng engine.Engine, send Sender, opts ...ServiceOption) *Service {
	s := &Service{
		engine: eng,
		send:   send,
		logger: log.New(io.Discard),
		queue:  newQueue(),
		quotas: resulttree.DefaultQuotas(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.emitter = protocol.NewEmitter(protocol.DefaultMaxDumpsPerSession, s.sendRecord)
	return s
}

// Initialize prepares the engine session. It must complete before the
// first submission is queued. The quotas are applied as sent; all zero
// makes every dump a summary leaf.
func (s *Service) Initialize(ctx context.Context, p protocol.InitializeParams) error {
	q := p.Quotas
	if err := q.Validate(); err != nil {
		return err
	}

	err := s.engine.Initialize(ctx, engine.Options{
		References:       p.References,
		Imports:          p.Imports,
		WorkingDirectory: p.WorkingDirectory,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.quotas = q
	s.emitter = protocol.NewEmitter(p.MaxDumpsPerSession, s.sendRecord)
	s.mu.Unlock()
	return nil
}

// ExecuteAsync queues code for execution and returns immediately.
func (s *Service) ExecuteAsync(code string, token int64) {
	s.queue.push(Submission{Code: code, Token: token})
}

// Run drains the queue until ctx is done. It must be called from exactly
// one goroutine.
func (s *Service) Run(ctx context.Context) error {
	for {
		sub, err := s.queue.pop(ctx)
		if err != nil {
			return err
		}
		s.execute(ctx, sub)
	}
}

func (s *Service) execute(ctx context.Context, sub Submission) {
	defer s.complete(sub.Token)

	emitter, quotas := s.session()
	s.reportFault(sub.Token, emitter, quotas)

	prog, diags := s.engine.Compile(sub.Code)
	if len(diags) > 0 {
		s.sendEvent(protocol.KindDiagnostics, protocol.DiagnosticsEvent{Token: sub.Token, Diagnostics: diags})
	}
	if prog == nil || engine.HasErrors(diags) {
		s.logger.Debug("submission did not compile", "token", sub.Token, "diagnostics", len(diags))
		return
	}

	out := newOutput(emitter, quotas)
	var runErr error
	if r := panics.Try(func() { runErr = s.engine.Run(ctx, prog, out) }); r != nil {
		s.logger.Error("submission panicked", "token", sub.Token, "panic", r.Value, "stack", string(r.Stack))
		panic(r.AsError())
	}
	if err := out.flush(); err != nil {
		s.logger.Warn("failed to stream console output", "token", sub.Token, "error", err)
	}

	if runErr == nil || ctx.Err() != nil {
		return
	}
	s.logger.Debug("submission failed", "token", sub.Token, "error", runErr)
	if err := emitter.EmitNode(resulttree.Exception("", runErr, quotas)); err != nil {
		s.logger.Warn("failed to send exception", "token", sub.Token, "error", err)
	}
}

// reportFault dumps a fault an earlier submission left behind. It never
// prevents the next submission from running.
func (s *Service) reportFault(token int64, emitter *protocol.Emitter, quotas resulttree.Quotas) {
	fs, ok := s.engine.(engine.FaultSource)
	if !ok {
		return
	}
	fault := fs.TakeFault()
	if fault == nil {
		return
	}
	s.logger.Warn("unhandled fault from earlier submission", "token", token, "error", fault)
	s.sendEvent(protocol.KindFault, protocol.FaultEvent{Token: token, Message: fault.Error()})
	if err := emitter.EmitNode(resulttree.Exception(unhandledFaultHeader, fault, quotas)); err != nil {
		s.logger.Warn("failed to send fault", "token", token, "error", err)
	}
}

func (s *Service) complete(token int64) {
	if e, _ := s.session(); e.Capped() {
		s.logger.Debug("dump cap reached", "token", token, "sent", e.Sent(), "dropped", e.Dropped())
	}
	s.sendEvent(protocol.KindCompleted, protocol.CompletedEvent{Token: token})
}

func (s *Service) session() (*protocol.Emitter, resulttree.Quotas) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitter, s.quotas
}

func (s *Service) sendRecord(r *protocol.Record) error {
	f, err := protocol.NewEvent(protocol.KindDumped, r)
	if err != nil {
		return err
	}
	return s.send.Send(f)
}

func (s *Service) sendEvent(kind protocol.Kind, body any) {
	f, err := protocol.NewEvent(kind, body)
	if err == nil {
		err = s.send.Send(f)
	}
	if err != nil {
		s.logger.Warn("failed to send event", "kind", kind, "error", err)
	}
}

func newOutput(e *protocol.Emitter, q resulttree.Quotas) *output {
	return &output{
		emitter: e,
		quotas:  q,
		stdout:  protocol.NewConsoleWriter(e, "", q),
		stderr:  protocol.NewConsoleWriter(e, protocol.StderrHeader, q),
	}
}

func (o *output) Dump(header string, value any) {
	_ = o.emitter.EmitNode(resulttree.DumpWithHeader(header, value, o.quotas))
}

func (o *output) Stdout() io.Writer { return o.stdout }
func (o *output) Stderr() io.Writer { return o.stderr }

func (o *output) flush() error {
	errOut := o.stdout.Flush()
	if err := o.stderr.Flush(); err != nil && errOut == nil {
		errOut = err
	}
	if errOut != nil {
		return fmt.Errorf("flush console: %w", errOut)
	}
	return nil
}
