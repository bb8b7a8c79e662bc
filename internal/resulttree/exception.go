// SPDX-License-Identifier: MPL-2.0

package resulttree

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/sourcegraph/conc/panics"
)

type (
	// LineNumberer is implemented by errors that know which line of user
	// code raised them.
	LineNumberer interface {
		LineNumber() int
	}

	// StackCarrier is implemented by errors that captured program counters
	// at the point of failure.
	StackCarrier interface {
		Callers() []uintptr
	}

	// PanicError wraps a recovered panic so it can be dumped as an exception.
	PanicError struct {
		Value   any
		Stack   []byte
		callers []uintptr
	}
)

// sandboxModulePrefix is the import path prefix of this module's packages.
var sandboxModulePrefix = func() string {
	pkg := reflect.TypeFor[Node]().PkgPath()
	if i := strings.Index(pkg, "/internal/"); i >= 0 {
		return pkg[:i+1]
	}
	return pkg + "/"
}()

// hostFramePrefixes are frames never attributed to user code.
var hostFramePrefixes = []string{
	"runtime.",
	"reflect.",
	"github.com/sourcegraph/conc/",
}

// NewPanicError converts a value recovered by the conc panics catcher.
func NewPanicError(r *panics.Recovered) *PanicError {
	if r == nil {
		return nil
	}
	return &PanicError{Value: r.Value, Stack: r.Stack, callers: r.Callers}
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Callers returns the program counters captured at recovery.
func (e *PanicError) Callers() []uintptr { return e.callers }

// Exception builds an exception node for err.
func Exception(header string, err error, q Quotas) *Node {
	return exceptionNode(optional(header), err, q)
}

// LineNumberOf returns the user-code line that raised err, or 0. A
// panicking LineNumber or Unwrap method also yields 0.
func LineNumberOf(err error) (line int) {
	_ = panics.Try(func() { line = lineNumberOf(err) })
	return line
}

func lineNumberOf(err error) int {
	var ln LineNumberer
	if errors.As(err, &ln) {
		return ln.LineNumber()
	}
	var sc StackCarrier
	if errors.As(err, &sc) {
		return UserLine(sc.Callers())
	}
	return 0
}

// UserLine returns the line of the first frame that does not belong to this
// module or to the runtime, or 0 when every frame is owned by the host.
func UserLine(callers []uintptr) int {
	if len(callers) == 0 {
		return 0
	}
	frames := runtime.CallersFrames(callers)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !isHostFrame(frame.Function) {
			return frame.Line
		}
		if !more {
			return 0
		}
	}
}

// isHostFrame reports whether fn belongs to the sandbox itself.
// Test packages of this module count as user code.
func isHostFrame(fn string) bool {
	for _, prefix := range hostFramePrefixes {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	if !strings.HasPrefix(fn, sandboxModulePrefix) {
		return false
	}
	return !strings.HasSuffix(packageOf(fn), "_test")
}

// packageOf trims the symbol from a fully qualified function name.
func packageOf(fn string) string {
	if bracket := strings.IndexByte(fn, '['); bracket >= 0 {
		fn = fn[:bracket]
	}
	slash := strings.LastIndex(fn, "/")
	if dot := strings.Index(fn[slash+1:], "."); dot >= 0 {
		return fn[:slash+1+dot]
	}
	return fn
}

func exceptionNode(header *string, err error, q Quotas) *Node {
	typeName := typeNameOf(err)
	msg := errorMessage(err)
	value := truncate(msg, q.MaxStringLength)
	n := &Node{
		Header: header,
		Type:   optional(typeName),
		Value:  &value,
		Exception: &ExceptionInfo{
			Message:    msg,
			LineNumber: LineNumberOf(err),
		},
	}
	if q.MaxDepth == 0 {
		return n
	}

	next := q.StepDown()
	for _, cause := range causesOf(err) {
		n.Children = append(n.Children, exceptionNode(optional("Cause"), cause, next))
	}
	n.Expanded = len(n.Children) > 0 && q.MaxExpandedDepth > 0
	return n
}

// errorMessage returns err.Error(), or panicMessage when it panics.
func errorMessage(err error) string {
	if msg, ok := safeString(err.Error); ok {
		return msg
	}
	return panicMessage
}

// causesOf returns the non-nil errors err wraps. A panicking Unwrap ends
// the list.
func causesOf(err error) []error {
	var causes []error
	_ = panics.Try(func() {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, cause := range u.Unwrap() {
				if cause != nil {
					causes = append(causes, cause)
				}
			}
		case interface{ Unwrap() error }:
			if cause := u.Unwrap(); cause != nil {
				causes = append(causes, cause)
			}
		}
	})
	return causes
}
