// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
)

const (
	kindString = "string"
	kindInt    = "int"
	kindBool   = "bool"
)

// usageStatus is the exit status of a builtin called with bad arguments.
const usageStatus = 2

// builtinFunc runs one builtin. args[0] is the builtin name.
type builtinFunc func(ctx context.Context, args []string) error

func (e *Engine) builtinMiddleware(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			if fn, ok := e.builtins[args[0]]; ok {
				return fn(ctx, args)
			}
		}
		return next(ctx, args)
	}
}

// dump streams a value to the controller.
//
//	dump [-h header] [--kind string|int|bool] value...
//	dump [-h header] -v name
//
// One value is dumped as a scalar, several as a list. With -v the named
// variable is dumped: indexed arrays as lists, associative arrays as maps.
func (e *Engine) dump(ctx context.Context, args []string) error {
	hc := interp.HandlerCtx(ctx)

	fs := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	header := fs.StringP("header", "h", "", "header shown above the value")
	name := fs.StringP("var", "v", "", "variable to dump")
	kind := fs.String("kind", kindString, "scalar type: string, int or bool")
	if err := fs.Parse(args[1:]); err != nil {
		return usage(hc.Stderr, "dump", err)
	}

	var value any
	switch {
	case *name != "":
		if fs.NArg() > 0 {
			return usage(hc.Stderr, "dump", errors.New("-v does not take values"))
		}
		v, err := variableValue(hc.Env, *name, *kind)
		if err != nil {
			return usage(hc.Stderr, "dump", err)
		}
		value = v
		if *header == "" {
			*header = *name
		}
	case fs.NArg() == 0:
		return usage(hc.Stderr, "dump", errors.New("nothing to dump"))
	case fs.NArg() == 1:
		v, err := convert(fs.Arg(0), *kind)
		if err != nil {
			return usage(hc.Stderr, "dump", err)
		}
		value = v
	default:
		values := make([]any, 0, fs.NArg())
		for _, arg := range fs.Args() {
			v, err := convert(arg, *kind)
			if err != nil {
				return usage(hc.Stderr, "dump", err)
			}
			values = append(values, v)
		}
		value = typedList(values, *kind)
	}

	e.output().Dump(*header, value)
	return nil
}

// throw raises a ScriptError with the given message. Errors thrown by a
// background job after its submission returned are kept for TakeFault.
func (e *Engine) throw(ctx context.Context, args []string) error {
	hc := interp.HandlerCtx(ctx)
	msg := strings.Join(args[1:], " ")
	if msg == "" {
		msg = "script error"
	}
	err := &ScriptError{Message: msg, Line: int(hc.Pos.Line())}
	if !e.running.Load() {
		e.mu.Lock()
		e.fault = err
		e.mu.Unlock()
	}
	return err
}

func variableValue(env expand.Environ, name, kind string) (any, error) {
	vr := env.Get(name)
	if vr.Kind == expand.NameRef {
		_, vr = vr.Resolve(env)
	}
	if !vr.IsSet() {
		return nil, nil
	}
	switch vr.Kind {
	case expand.Indexed:
		return slices.Clone(vr.List), nil
	case expand.Associative:
		return maps.Clone(vr.Map), nil
	default:
		return convert(vr.Str, kind)
	}
}

func convert(s, kind string) (any, error) {
	switch kind {
	case kindString:
		return s, nil
	case kindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an int", s)
		}
		return int(n), nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%q is not a bool", s)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// typedList converts values produced by convert into a slice of their kind.
func typedList(values []any, kind string) any {
	switch kind {
	case kindInt:
		return collect[int](values)
	case kindBool:
		return collect[bool](values)
	default:
		return collect[string](values)
	}
}

func collect[T any](values []any) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = v.(T)
	}
	return out
}

func usage(stderr io.Writer, name string, err error) error {
	fmt.Fprintf(stderr, "%s: %v\n", name, err)
	return interp.ExitStatus(usageStatus)
}
