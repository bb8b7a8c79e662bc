// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/invowk/scriptbox/internal/engine"
	"github.com/invowk/scriptbox/internal/issue"
	"github.com/invowk/scriptbox/internal/protocol"
	"github.com/invowk/scriptbox/internal/resulttree"

	"github.com/charmbracelet/lipgloss/tree"
)

// renderNode renders one streamed result: a single line for leaves, a
// rounded tree for expanded values.
func renderNode(n *resulttree.Node) string {
	if n == nil {
		return ""
	}
	if protocol.IsSentinelNode(n) {
		slug := issue.Get(issue.MaxResultsReachedId).Slug()
		return WarningStyle.Render(protocol.MaxResultsReached) +
			VerboseStyle.Render(fmt.Sprintf(" (see 'scriptbox issues %s')", slug))
	}
	if len(n.Children) == 0 {
		return nodeLabel(n)
	}
	return nodeTree(n).String()
}

func nodeTree(n *resulttree.Node) *tree.Tree {
	t := tree.Root(nodeLabel(n)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(VerboseStyle)
	for _, c := range n.Children {
		if len(c.Children) > 0 {
			t.Child(nodeTree(c))
		} else {
			t.Child(nodeLabel(c))
		}
	}
	return t
}

// nodeLabel renders "header: value type", omitting unset parts and the
// type of console lines.
func nodeLabel(n *resulttree.Node) string {
	var parts []string
	if h := n.HeaderString(); h != "" {
		parts = append(parts, headerStyle.Render(h+":"))
	}
	switch {
	case n.IsException():
		label := ErrorStyle.Render("✗ " + n.ValueString())
		if line := n.Exception.LineNumber; line > 0 {
			label += VerboseStyle.Render(fmt.Sprintf(" (line %d)", line))
		}
		parts = append(parts, label)
	case n.Value != nil:
		parts = append(parts, SuccessStyle.Render(n.ValueString()))
	}
	if t := n.TypeString(); t != "" && t != protocol.ConsoleType {
		parts = append(parts, typeStyle.Render(t))
	}
	return strings.Join(parts, " ")
}

// renderDiagnostics renders compiler findings one per line.
func renderDiagnostics(diags []engine.Diagnostic) string {
	var sb strings.Builder
	for i, d := range diags {
		if i > 0 {
			sb.WriteByte('\n')
		}
		mark := WarningStyle.Render("⚠")
		if d.Severity == engine.SeverityError {
			mark = ErrorStyle.Render("✗")
		}
		fmt.Fprintf(&sb, "%s %s", mark, d.String())
	}
	return sb.String()
}
