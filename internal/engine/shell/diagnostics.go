// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"errors"
	"strings"

	"github.com/invowk/scriptbox/internal/engine"

	"mvdan.cc/sh/v3/syntax"
)

const (
	codeSyntax      = "SH1001"
	codeUnsupported = "SH1002"
	codeUnknown     = "SH1000"
)

func diagnosticsFor(err error) []engine.Diagnostic {
	var parseErr syntax.ParseError
	if errors.As(err, &parseErr) {
		return []engine.Diagnostic{{
			Severity: engine.SeverityError,
			Code:     codeSyntax,
			Message:  parseErr.Text,
			Line:     int(parseErr.Pos.Line()),
			Column:   int(parseErr.Pos.Col()),
		}}
	}
	var langErr syntax.LangError
	if errors.As(err, &langErr) {
		return []engine.Diagnostic{{
			Severity: engine.SeverityError,
			Code:     codeUnsupported,
			Message:  langMessage(langErr),
			Line:     int(langErr.Pos.Line()),
			Column:   int(langErr.Pos.Col()),
		}}
	}
	return []engine.Diagnostic{{
		Severity: engine.SeverityError,
		Code:     codeUnknown,
		Message:  err.Error(),
	}}
}

// langMessage strips the position prefix from a LangError.
func langMessage(err syntax.LangError) string {
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, ": "); ok {
		return rest
	}
	return msg
}

// dumpTrailingArithmetic turns a final ((expr)) statement into a dump of
// its value, so an expression entered on its own yields a result.
func dumpTrailingArithmetic(file *syntax.File) {
	if len(file.Stmts) == 0 {
		return
	}
	stmt := file.Stmts[len(file.Stmts)-1]
	arith, ok := stmt.Cmd.(*syntax.ArithmCmd)
	if !ok || stmt.Negated || stmt.Background || stmt.Coprocess || len(stmt.Redirs) > 0 {
		return
	}
	pos := arith.Left
	stmt.Cmd = &syntax.CallExpr{Args: []*syntax.Word{
		literal(pos, "dump"),
		literal(pos, "--kind"),
		literal(pos, kindInt),
		literal(pos, "--"),
		{Parts: []syntax.WordPart{&syntax.ArithmExp{
			Left:     arith.Left,
			Right:    arith.Right,
			Unsigned: arith.Unsigned,
			X:        arith.X,
		}}},
	}}
}

func literal(pos syntax.Pos, value string) *syntax.Word {
	return &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{ValuePos: pos, ValueEnd: pos, Value: value}}}
}
