// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/invowk/scriptbox/internal/core/serverbase"
	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/protocol"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// DefaultParentPollInterval is how often the controller PID is checked.
	DefaultParentPollInterval = time.Second
	// DefaultHelloTimeout bounds how long a client may take to authenticate.
	DefaultHelloTimeout = 10 * time.Second
)

var (
	// ErrParentExited is returned by Wait when the controller process went away.
	ErrParentExited = errors.New("controller process exited")
	// ErrUnauthorized is sent to clients that present a wrong token.
	ErrUnauthorized = errors.New("unauthorized")
)

type (
	// Config configures a worker Server.
	Config struct {
		// Endpoint is where the server listens.
		Endpoint protocol.Endpoint
		// SyncPath is written with the bound endpoint once listening.
		SyncPath string
		// Token must be presented by the controller in its hello request.
		Token string
		// ParentPID is the controller process. Zero disables the watch.
		ParentPID int
		// ParentPollInterval defaults to DefaultParentPollInterval.
		ParentPollInterval time.Duration
		// HelloTimeout defaults to DefaultHelloTimeout.
		HelloTimeout time.Duration
		// Engine runs the submissions.
		Engine engine.Engine
		// Logger defaults to a stderr logger prefixed "worker".
		Logger *log.Logger
	}

	// Server accepts one authenticated controller and serves it until the
	// controller disconnects or exits.
	Server struct {
		*serverbase.Base

		cfg    Config
		logger *log.Logger

		mu       sync.Mutex
		listener net.Listener
		addr     protocol.Endpoint
	}

	// ParentExitedError reports which controller PID disappeared.
	// It wraps ErrParentExited for errors.Is() compatibility.
	ParentExitedError struct {
		PID int
	}
)

// NewServer creates a server in the Created state.
func NewServer(cfg Config) *Server {
	if cfg.ParentPollInterval <= 0 {
		cfg.ParentPollInterval = DefaultParentPollInterval
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "worker"})
	}
	return &Server{
		Base:   serverbase.New(),
		cfg:    cfg,
		logger: logger,
	}
}

// Serve runs a server until ctx is cancelled, the controller disconnects
// or the controller process exits.
func Serve(ctx context.Context, cfg Config) error {
	s := NewServer(cfg)
	if err := s.Start(ctx); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { s.Shutdown() })
	defer stop()
	return s.Wait()
}

// Start listens on the configured endpoint and writes the sync file.
// It returns once the server accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Engine == nil {
		return errors.New("worker: no engine configured")
	}
	if err := s.Begin(ctx); err != nil {
		return err
	}

	ln, bound, err := protocol.Listen(ctx, s.cfg.Endpoint)
	if err != nil {
		return s.abort(err)
	}
	if s.cfg.SyncPath != "" {
		if err := writeSyncFile(s.cfg.SyncPath, bound); err != nil {
			_ = ln.Close()
			return s.abort(err)
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = bound
	s.mu.Unlock()

	s.Go(func(ctx context.Context) {
		<-ctx.Done()
		_ = ln.Close()
	})
	s.Go(s.accept)
	if s.cfg.ParentPID > 0 {
		s.Go(s.watchParent)
	}

	s.MarkRunning()
	// Reap the goroutines so Done closes without an explicit Wait.
	go func() { _ = s.Wait() }()
	s.logger.Info("worker listening", "endpoint", bound.String(), "pid", os.Getpid())
	return nil
}

// Stop shuts the server down and waits for it.
func (s *Server) Stop() error {
	s.Shutdown()
	err := s.Wait()
	if errors.Is(err, ErrParentExited) {
		return nil
	}
	return err
}

// Addr returns the bound endpoint. It is empty before Start.
func (s *Server) Addr() protocol.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Error implements the error interface.
func (e *ParentExitedError) Error() string {
	return fmt.Sprintf("controller process %d exited", e.PID)
}

// Unwrap returns ErrParentExited for errors.Is() compatibility.
func (e *ParentExitedError) Unwrap() error {
	return ErrParentExited
}

func (s *Server) abort(err error) error {
	s.Fail(err)
	_ = s.Wait()
	return err
}

// accept serves the first controller that authenticates, then shuts the
// server down when that controller disconnects.
func (s *Server) accept(ctx context.Context) {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
				s.Fail(fmt.Errorf("accept: %w", err))
			}
			return
		}

		conn := protocol.NewConn(c)
		if err := s.authenticate(c, conn); err != nil {
			s.logger.Warn("rejected connection", "remote", c.RemoteAddr().String(), "error", err)
			_ = conn.Close()
			continue
		}

		s.serve(ctx, conn)
		s.Shutdown()
		return
	}
}

func (s *Server) authenticate(c net.Conn, conn *protocol.Conn) error {
	_ = c.SetDeadline(time.Now().Add(s.cfg.HelloTimeout))
	defer func() { _ = c.SetDeadline(time.Time{}) }()

	f, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.Kind != protocol.KindHello || f.Type != protocol.FrameRequest {
		return fmt.Errorf("expected hello request, got %s %s", f.Kind, f.Type)
	}
	params, err := protocol.Decode[protocol.HelloParams](f)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(s.cfg.Token)) != 1 {
		s.respond(conn, f, nil, ErrUnauthorized)
		return ErrUnauthorized
	}
	s.respond(conn, f, protocol.HelloResult{PID: os.Getpid()}, nil)
	return nil
}

// serve dispatches frames from an authenticated controller. Submissions
// are acknowledged and handed to the service goroutine; the reader never
// waits for them to run.
func (s *Server) serve(ctx context.Context, conn *protocol.Conn) {
	svc := NewService(s.cfg.Engine, conn, WithServiceLogger(s.logger))

	execCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { _ = svc.Run(execCtx) })
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		cancel()
		wg.Wait()
		_ = conn.Close()
	}()

	for {
		f, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.logger.Debug("controller disconnected")
			} else {
				s.logger.Warn("controller connection failed", "error", err)
			}
			return
		}

		switch f.Kind {
		case protocol.KindInitialize:
			params, err := protocol.Decode[protocol.InitializeParams](f)
			if err == nil {
				err = svc.Initialize(ctx, params)
			}
			if err != nil {
				s.logger.Error("initialize failed", "error", err)
			}
			s.respond(conn, f, nil, err)
		case protocol.KindExecute:
			if f.Type != protocol.FrameRequest {
				s.logger.Warn("dropping submission sent as", "type", f.Type)
				continue
			}
			params, err := protocol.Decode[protocol.ExecuteParams](f)
			if err != nil {
				s.logger.Warn("dropping malformed submission", "error", err)
				s.respond(conn, f, nil, err)
				continue
			}
			// The acknowledgement goes out before any event of the
			// submission can.
			s.respond(conn, f, nil, nil)
			svc.ExecuteAsync(params.Code, params.Token)
		default:
			if f.Type == protocol.FrameRequest {
				s.respond(conn, f, nil, fmt.Errorf("unsupported request %q", f.Kind))
			}
		}
	}
}

func (s *Server) respond(conn *protocol.Conn, req protocol.Frame, result any, callErr error) {
	resp, err := protocol.NewResponse(req, result, callErr)
	if err == nil {
		err = conn.Send(resp)
	}
	if err != nil {
		s.logger.Warn("failed to respond", "kind", req.Kind, "error", err)
	}
}

// watchParent fails the server once the controller process is gone.
func (s *Server) watchParent(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ParentPollInterval)
	defer ticker.Stop()

	pid := s.cfg.ParentPID
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		exists, err := process.PidExistsWithContext(ctx, int32(pid)) //nolint:gosec // PIDs fit in int32
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("controller liveness check failed", "pid", pid, "error", err)
			continue
		}
		if !exists {
			s.logger.Warn("controller exited, shutting down", "pid", pid)
			s.Fail(&ParentExitedError{PID: pid})
			return
		}
	}
}

// writeSyncFile publishes the bound endpoint atomically so a watcher never
// reads a partial file.
func writeSyncFile(path string, bound protocol.Endpoint) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create sync file: %w", err)
	}
	if _, err := tmp.WriteString(bound.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write sync file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish sync file: %w", err)
	}
	return nil
}
