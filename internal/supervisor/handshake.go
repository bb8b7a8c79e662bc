// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invowk/scriptbox/internal/protocol"

	"github.com/fsnotify/fsnotify"
)

// waitForSync blocks until the worker published its endpoint in path. Each
// wait is bounded by the poll interval so a dead worker is noticed even
// when no filesystem event arrives.
func (s *Supervisor) waitForSync(ctx context.Context, w *Worker, path string) (protocol.Endpoint, error) {
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		s.logger.Debug("sync file watcher unavailable, polling", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			s.logger.Debug("cannot watch state directory, polling", "error", err)
		} else {
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}

	deadline := time.NewTimer(s.cfg.HandshakeTimeout)
	defer deadline.Stop()
	for {
		ep, ok, err := readSync(path)
		if err != nil {
			return protocol.Endpoint{}, err
		}
		if ok {
			return ep, nil
		}

		iteration := time.NewTimer(s.cfg.PollInterval)
		select {
		case _, open := <-events:
			if !open {
				events = nil
			}
		case err, open := <-watchErrs:
			if !open {
				watchErrs = nil
			} else {
				s.logger.Debug("sync file watcher error", "error", err)
			}
		case <-w.Exited():
			iteration.Stop()
			return protocol.Endpoint{}, &ExitedError{PID: w.PID, Cause: w.ExitErr()}
		case <-ctx.Done():
			iteration.Stop()
			return protocol.Endpoint{}, ctx.Err()
		case <-deadline.C:
			iteration.Stop()
			return protocol.Endpoint{}, fmt.Errorf("%w after %s", ErrHandshakeTimeout, s.cfg.HandshakeTimeout)
		case <-iteration.C:
		}
		iteration.Stop()
	}
}

// readSync reports the endpoint stored in path once it exists.
func readSync(path string) (protocol.Endpoint, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.Endpoint{}, false, nil
	}
	if err != nil {
		return protocol.Endpoint{}, false, fmt.Errorf("failed to read sync file: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return protocol.Endpoint{}, false, nil
	}
	ep, err := protocol.ParseEndpoint(content)
	if err != nil {
		return protocol.Endpoint{}, false, fmt.Errorf("sync file: %w", err)
	}
	return ep, true, nil
}

// handshake authenticates against the worker and initializes its session.
func (s *Supervisor) handshake(ctx context.Context, w *Worker, ep protocol.Endpoint, token string) error {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := protocol.Dial(hctx, ep)
	if err != nil {
		return s.attemptError(ctx, hctx, w, err)
	}
	w.conn = conn
	stop := context.AfterFunc(hctx, func() { _ = conn.Close() })

	resp, err := request(conn, protocol.KindHello, protocol.HelloParams{Token: token})
	if err == nil {
		var hello protocol.HelloResult
		if hello, err = protocol.Decode[protocol.HelloResult](resp); err == nil && hello.PID != w.PID {
			s.logger.Debug("worker reported another pid", "pid", w.PID, "reported", hello.PID)
		}
	}
	if err != nil {
		stop()
		return s.attemptError(ctx, hctx, w, fmt.Errorf("hello: %w", err))
	}

	if _, err := request(conn, protocol.KindInitialize, s.cfg.Init); err != nil {
		stop()
		return s.attemptError(ctx, hctx, w, fmt.Errorf("initialize: %w", err))
	}
	if !stop() {
		return s.attemptError(ctx, hctx, w, errors.New("connection closed during handshake"))
	}
	return nil
}

// attemptError classifies a handshake failure: cancellation wins, then a
// dead worker, then the handshake deadline.
func (s *Supervisor) attemptError(ctx, hctx context.Context, w *Worker, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	select {
	case <-w.Exited():
		return &ExitedError{PID: w.PID, Cause: w.ExitErr()}
	case <-time.After(10 * time.Millisecond):
	}
	if hctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	return fmt.Errorf("worker handshake failed: %w", err)
}

// request sends a request and waits for its response.
func request(conn *protocol.Conn, kind protocol.Kind, params any) (protocol.Frame, error) {
	req, err := protocol.NewRequest(kind, params)
	if err != nil {
		return protocol.Frame{}, err
	}
	if err := conn.Send(req); err != nil {
		return protocol.Frame{}, err
	}
	for {
		resp, err := conn.Receive()
		if err != nil {
			return protocol.Frame{}, err
		}
		if resp.Type != protocol.FrameResponse || resp.ID != req.ID {
			continue
		}
		return resp, resp.Err()
	}
}
