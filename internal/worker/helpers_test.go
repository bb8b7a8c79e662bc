// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/protocol"
	"github.com/invowk/scriptbox/internal/resulttree"

	"github.com/charmbracelet/log"
)

type (
	// recorder is a Sender that keeps every frame.
	recorder struct {
		mu     sync.Mutex
		frames []protocol.Frame
	}

	// stubEngine runs every submission by dumping its code.
	stubEngine struct {
		mu    sync.Mutex
		fault error
		opts  engine.Options
	}

	stubProgram string
)

func (r *recorder) Send(f protocol.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) snapshot() []protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Frame(nil), r.frames...)
}

// waitCompleted returns every frame sent up to the completion of token.
func (r *recorder) waitCompleted(t *testing.T, token int64) []protocol.Frame {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		frames := r.snapshot()
		for i, f := range frames {
			if f.Kind != protocol.KindCompleted {
				continue
			}
			done, err := protocol.Decode[protocol.CompletedEvent](f)
			if err != nil {
				t.Fatalf("Decode(completed) error = %v", err)
			}
			if done.Token == token {
				return frames[:i+1]
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission %d never completed", token)
	return nil
}

func startService(t *testing.T, eng engine.Engine, params protocol.InitializeParams) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	svc := NewService(eng, rec, WithServiceLogger(log.New(io.Discard)))
	if params.WorkingDirectory == "" {
		params.WorkingDirectory = t.TempDir()
	}
	if params.Quotas == (resulttree.Quotas{}) {
		params.Quotas = resulttree.DefaultQuotas()
	}
	if err := svc.Initialize(t.Context(), params); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc, rec
}

func dumpedNodes(t *testing.T, frames []protocol.Frame) []*resulttree.Node {
	t.Helper()
	var nodes []*resulttree.Node
	for _, f := range frames {
		if f.Kind != protocol.KindDumped {
			continue
		}
		rec, err := protocol.Decode[protocol.Record](f)
		if err != nil {
			t.Fatalf("Decode(record) error = %v", err)
		}
		nodes = append(nodes, rec.Node())
	}
	return nodes
}

func kinds(frames []protocol.Frame) []protocol.Kind {
	out := make([]protocol.Kind, len(frames))
	for i, f := range frames {
		out[i] = f.Kind
	}
	return out
}

func (e *stubEngine) Initialize(_ context.Context, opts engine.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
	return nil
}

func (e *stubEngine) Compile(code string) (engine.Program, []engine.Diagnostic) {
	return stubProgram(code), nil
}

func (e *stubEngine) Run(_ context.Context, prog engine.Program, out engine.Output) error {
	out.Dump("", prog.Source())
	return nil
}

func (e *stubEngine) TakeFault() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.fault
	e.fault = nil
	return err
}

func (p stubProgram) Source() string { return string(p) }
