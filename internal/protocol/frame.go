// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/resulttree"

	"github.com/google/uuid"
)

const (
	// FrameRequest is sent by the controller and may expect a response.
	FrameRequest FrameType = "req"
	// FrameResponse answers a request with the same ID.
	FrameResponse FrameType = "res"
	// FrameEvent is sent by the worker without being asked.
	FrameEvent FrameType = "evt"

	// KindHello authenticates the controller. Its response ends the handshake.
	KindHello Kind = "hello"
	// KindInitialize configures the session. It is answered with a response.
	KindInitialize Kind = "initialize"
	// KindExecute submits code. The response only acknowledges that the
	// worker queued it; results follow as events.
	KindExecute Kind = "execute"
	// KindDumped carries one Record.
	KindDumped Kind = "dumped"
	// KindCompleted reports that a submission finished.
	KindCompleted Kind = "completed"
	// KindDiagnostics reports compilation failures of a submission.
	KindDiagnostics Kind = "diagnostics"
	// KindFault reports an unhandled fault left behind by an earlier submission.
	KindFault Kind = "fault"

	// EnvWorkerToken is the environment variable carrying the handshake token.
	//nolint:gosec // G101: This is an env var name, not a hardcoded credential
	EnvWorkerToken = "SCRIPTBOX_WORKER_TOKEN"
)

// ErrInvalidFrame is returned when a frame cannot be decoded or has an unknown shape.
var ErrInvalidFrame = errors.New("invalid frame")

type (
	// FrameType distinguishes requests, responses and events.
	FrameType string

	// Kind names the operation a frame belongs to.
	Kind string

	// Frame is the envelope of every control message.
	Frame struct {
		Type    FrameType       `json:"type"`
		ID      string          `json:"id,omitempty"`
		Kind    Kind            `json:"kind"`
		Payload json.RawMessage `json:"payload,omitempty"`
		Error   string          `json:"error,omitempty"`
	}

	// HelloParams authenticates the controller to the worker.
	HelloParams struct {
		Token string `json:"token"`
	}

	// HelloResult describes the worker that accepted the handshake.
	HelloResult struct {
		PID int `json:"pid"`
	}

	// InitializeParams configures a worker session.
	InitializeParams struct {
		References         []string          `json:"references,omitempty"`
		Imports            []string          `json:"imports,omitempty"`
		WorkingDirectory   string            `json:"working_directory,omitempty"`
		Quotas             resulttree.Quotas `json:"quotas"`
		MaxDumpsPerSession int               `json:"max_dumps_per_session"`
	}

	// ExecuteParams submits code for execution.
	ExecuteParams struct {
		Code  string `json:"code"`
		Token int64  `json:"token"`
	}

	// CompletedEvent reports that the submission with Token finished.
	CompletedEvent struct {
		Token int64 `json:"token"`
	}

	// DiagnosticsEvent carries the compiler findings of a submission.
	DiagnosticsEvent struct {
		Token       int64               `json:"token"`
		Diagnostics []engine.Diagnostic `json:"diagnostics"`
	}

	// FaultEvent is sent before the submission with Token runs when an
	// earlier submission left an unhandled fault behind.
	FaultEvent struct {
		Token   int64  `json:"token"`
		Message string `json:"message"`
	}

	// InvalidFrameError is returned when a frame is malformed.
	// It wraps ErrInvalidFrame for errors.Is() compatibility.
	InvalidFrameError struct {
		Reason string
		Cause  error
	}
)

// NewRequest builds a request frame with a fresh ID.
func NewRequest(kind Kind, params any) (Frame, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s request: %w", kind, err)
	}
	return Frame{Type: FrameRequest, ID: uuid.NewString(), Kind: kind, Payload: payload}, nil
}

// NewResponse answers req. A non-nil callErr is carried in the Error field.
func NewResponse(req Frame, result any, callErr error) (Frame, error) {
	resp := Frame{Type: FrameResponse, ID: req.ID, Kind: req.Kind}
	if callErr != nil {
		resp.Error = callErr.Error()
		return resp, nil
	}
	if result != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s response: %w", req.Kind, err)
		}
		resp.Payload = payload
	}
	return resp, nil
}

// NewEvent builds an event frame.
func NewEvent(kind Kind, body any) (Frame, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return Frame{Type: FrameEvent, Kind: kind, Payload: payload}, nil
}

// Decode unmarshals the payload of f into a T.
func Decode[T any](f Frame) (T, error) {
	var v T
	if len(f.Payload) == 0 {
		return v, &InvalidFrameError{Reason: fmt.Sprintf("%s %s frame has no payload", f.Kind, f.Type)}
	}
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		return v, &InvalidFrameError{Reason: fmt.Sprintf("decode %s payload", f.Kind), Cause: err}
	}
	return v, nil
}

// Err returns the remote error carried by a response, or nil.
func (f Frame) Err() error {
	if f.Error == "" {
		return nil
	}
	return fmt.Errorf("%s: %s", f.Kind, f.Error)
}

// Validate returns nil if the frame has a known type and a kind.
func (f Frame) Validate() error {
	switch f.Type {
	case FrameRequest, FrameResponse, FrameEvent:
	default:
		return &InvalidFrameError{Reason: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
	if f.Kind == "" {
		return &InvalidFrameError{Reason: "missing kind"}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidFrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid frame: %s: %v", e.Reason, e.Cause)
	}
	return "invalid frame: " + e.Reason
}

// Unwrap returns ErrInvalidFrame for errors.Is() compatibility.
func (e *InvalidFrameError) Unwrap() []error {
	return []error{ErrInvalidFrame, e.Cause}
}
