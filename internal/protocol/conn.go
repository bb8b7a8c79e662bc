// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a received frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// Conn reads and writes newline-delimited frames.
// Send is safe for concurrent use; Receive must be called from one goroutine.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps rwc.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReaderSize(rwc, 64<<10),
		w:   bufio.NewWriter(rwc),
	}
}

// Send writes f followed by a newline and flushes it immediately.
func (c *Conn) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%s frame of %d bytes: %w", f.Kind, len(data), ErrFrameTooLarge)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.w.Write(data); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// Receive blocks for the next frame. It returns io.EOF once the peer closed
// the connection cleanly.
func (c *Conn) Receive() (Frame, error) {
	line, err := c.readLine()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, &InvalidFrameError{Reason: "decode frame", Cause: err}
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// readLine returns the next line without its terminator.
func (c *Conn) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		if len(buf)+len(chunk) > MaxFrameSize+1 {
			return nil, ErrFrameTooLarge
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return buf[:len(buf)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
