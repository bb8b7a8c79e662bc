// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"bytes"
	"sync"

	"github.com/invowk/scriptbox/internal/resulttree"
)

const (
	// StderrHeader is the header of records produced from stderr lines.
	StderrHeader = "Error"
	// ConsoleType is the type of records produced from console lines.
	ConsoleType = "console"

	// maxConsoleLine bounds a buffered partial line.
	maxConsoleLine = 64 << 10
)

// ConsoleWriter turns console output into one leaf record per line. The
// records are typed ConsoleType, so no line can pass for the sentinel.
type ConsoleWriter struct {
	emitter *Emitter
	header  string
	quotas  resulttree.Quotas

	mu  sync.Mutex
	buf []byte
	err error
}

// NewConsoleWriter creates a writer whose lines are emitted with header.
// Use an empty header for stdout and StderrHeader for stderr.
func NewConsoleWriter(e *Emitter, header string, q resulttree.Quotas) *ConsoleWriter {
	return &ConsoleWriter{emitter: e, header: header, quotas: q}
}

// Write emits every complete line in p and buffers the remainder.
// Emission errors are remembered and reported by Flush so that the writing
// program is not interrupted.
func (w *ConsoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxConsoleLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush emits a trailing partial line and returns the first emission error.
func (w *ConsoleWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return w.err
}

func (w *ConsoleWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	n := resulttree.DumpWithHeader(w.header, string(line), w.quotas)
	typ := ConsoleType
	n.Type = &typ
	if err := w.emitter.EmitNode(n); err != nil && w.err == nil {
		w.err = err
	}
}
