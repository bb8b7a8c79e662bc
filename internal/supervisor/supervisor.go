// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/invowk/scriptbox/internal/procgroup"
	"github.com/invowk/scriptbox/internal/protocol"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	// DefaultPollInterval bounds one wait for the sync file before the
	// worker's liveness is checked again.
	DefaultPollInterval = 5 * time.Second
	// DefaultHandshakeTimeout bounds the whole wait for a worker to become ready.
	DefaultHandshakeTimeout = 30 * time.Second

	// maxSocketPath keeps unix socket paths below the smallest platform limit.
	maxSocketPath = 100
	// waitDelay bounds how long stderr forwarding may outlive the worker.
	waitDelay = time.Second
	// tokenBytes is the size of the per-attempt handshake token.
	tokenBytes = 32
)

var (
	// ErrHandshakeTimeout is returned when the worker never signalled readiness.
	ErrHandshakeTimeout = errors.New("worker handshake timed out")
	// ErrWorkerExited is returned when the worker died before it was ready.
	ErrWorkerExited = errors.New("worker exited before it was ready")

	// DefaultArgs is the command prefix that selects the worker entry point.
	DefaultArgs = []string{"internal", "worker"}
)

type (
	// Config configures a Supervisor.
	Config struct {
		// Executable is the worker binary. Defaults to os.Executable().
		Executable string
		// Args precede "<endpoint> <sync> --pid <pid>". Nil means DefaultArgs.
		Args []string
		// Env is appended to the controller environment.
		Env []string
		// StateDir holds sockets and sync files. Defaults to os.TempDir().
		StateDir string
		// PollInterval defaults to DefaultPollInterval.
		PollInterval time.Duration
		// HandshakeTimeout defaults to DefaultHandshakeTimeout.
		HandshakeTimeout time.Duration
		// Init is sent to every worker once it is authenticated.
		Init protocol.InitializeParams
		// Logger defaults to a stderr logger prefixed "supervisor".
		Logger *log.Logger
	}

	// Supervisor spawns workers.
	Supervisor struct {
		cfg    Config
		logger *log.Logger
	}

	// ExitedError reports a worker that died during the handshake.
	// It wraps ErrWorkerExited and the wait error.
	ExitedError struct {
		PID   int
		Cause error
	}

	// attempt holds the names generated for one spawn.
	attempt struct {
		id       string
		endpoint protocol.Endpoint
		syncPath string
		token    string
	}
)

// New creates a supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.Args == nil {
		cfg.Args = DefaultArgs
	}
	if cfg.StateDir == "" {
		cfg.StateDir = os.TempDir()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "supervisor"})
	}
	return &Supervisor{cfg: cfg, logger: logger}, nil
}

// Spawn performs one attempt to start a ready worker. On failure nothing
// of the attempt is left running.
func (s *Supervisor) Spawn(ctx context.Context) (w *Worker, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.newAttempt()
	if err != nil {
		return nil, err
	}

	group, err := procgroup.New()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(s.cfg.Executable, s.commandArgs(a)...) //nolint:gosec // the worker binary is our own executable
	cmd.Env = append(append(os.Environ(), s.cfg.Env...), protocol.EnvWorkerToken+"="+a.token)
	cmd.Stderr = &lineLogger{logger: s.logger}
	cmd.WaitDelay = waitDelay
	group.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		_ = group.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	w = newWorker(cmd, group, a)
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	if err := group.AddProcess(cmd.Process); err != nil {
		s.logger.Warn("worker not enrolled in process group", "pid", w.PID, "error", err)
	}
	s.logger.Debug("worker started", "pid", w.PID, "endpoint", a.endpoint.String())

	ep, err := s.waitForSync(ctx, w, a.syncPath)
	if err != nil {
		return nil, err
	}
	if err := s.handshake(ctx, w, ep, a.token); err != nil {
		return nil, err
	}
	s.logger.Debug("worker ready", "pid", w.PID)
	return w, nil
}

// Error implements the error interface.
func (e *ExitedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("worker %d exited before it was ready: %v", e.PID, e.Cause)
	}
	return fmt.Sprintf("worker %d exited before it was ready", e.PID)
}

// Unwrap returns ErrWorkerExited and the wait error.
func (e *ExitedError) Unwrap() []error {
	return []error{ErrWorkerExited, e.Cause}
}

func (s *Supervisor) newAttempt() (attempt, error) {
	token, err := generateToken(tokenBytes)
	if err != nil {
		return attempt{}, fmt.Errorf("failed to generate worker token: %w", err)
	}
	id := uuid.NewString()
	compact := strings.ReplaceAll(id, "-", "")

	ep := protocol.Endpoint{Network: protocol.NetworkTCP, Address: "127.0.0.1:0"}
	sock := filepath.Join(s.cfg.StateDir, "sbx-"+compact+".sock")
	if runtime.GOOS != "windows" && len(sock) <= maxSocketPath {
		ep = protocol.Endpoint{Network: protocol.NetworkUnix, Address: sock}
	}
	return attempt{
		id:       id,
		endpoint: ep,
		syncPath: filepath.Join(s.cfg.StateDir, "sbx-"+compact+".ready"),
		token:    token,
	}, nil
}

func (s *Supervisor) commandArgs(a attempt) []string {
	args := make([]string, 0, len(s.cfg.Args)+4)
	args = append(args, s.cfg.Args...)
	return append(args, a.endpoint.String(), a.syncPath, "--pid", strconv.Itoa(os.Getpid()))
}

// generateToken returns a random hex-encoded token of the given byte length.
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
