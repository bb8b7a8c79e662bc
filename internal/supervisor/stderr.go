// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"bytes"
	"sync"

	"github.com/charmbracelet/log"
)

// maxStderrLine flushes partial lines that grow past this size.
const maxStderrLine = 16 << 10

// lineLogger forwards worker stderr to the controller logger line by line.
type lineLogger struct {
	logger *log.Logger

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) >= maxStderrLine {
		l.emit(l.buf)
		l.buf = nil
	}
	return len(p), nil
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	l.logger.Info(string(line), "source", "worker")
}
