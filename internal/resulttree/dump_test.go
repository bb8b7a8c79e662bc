// SPDX-License-Identifier: MPL-2.0

package resulttree_test

import (
	"errors"
	"fmt"
	"iter"
	"runtime"
	"strings"
	"testing"

	"github.com/invowk/scriptbox/internal/resulttree"
)

type (
	point struct {
		Y      int
		X      int
		hidden string
	}

	chain struct {
		Name string
		Next *chain
	}

	faulty struct {
		panicLine int
	}

	named []string

	panickingError struct{}

	throwsPanickingError struct{}
)

func (panickingError) Error() string { panic("message unavailable") }

func (throwsPanickingError) DumpMembers() []resulttree.Member {
	return []resulttree.Member{
		{Name: "Before", Get: func() (any, error) { return 1, nil }},
		{Name: "Broken", Get: func() (any, error) { return nil, panickingError{} }},
		{Name: "Stored", Get: func() (any, error) { return panickingError{}, nil }},
		{Name: "Zafter", Get: func() (any, error) { return "still here", nil }},
	}
}

func (f *faulty) DumpMembers() []resulttree.Member {
	return []resulttree.Member{
		{Name: "Ok", Get: func() (any, error) { return "fine", nil }},
		{Name: "Failing", Get: func() (any, error) { return nil, errors.New("getter failed") }},
		{Name: "Panicking", Get: func() (any, error) {
			_, _, line, _ := runtime.Caller(0)
			f.panicLine = line + 1
			panic("boom")
		}},
	}
}

func (named) GroupKey() any { return "fruit" }

// walkNodes calls fn for n and every descendant in pre-order.
func walkNodes(n *resulttree.Node, level int, fn func(n *resulttree.Node, level int)) {
	fn(n, level)
	for _, c := range n.Children {
		walkNodes(c, level+1, fn)
	}
}

func longChain(n int) *chain {
	var head *chain
	for i := n; i > 0; i-- {
		head = &chain{Name: fmt.Sprintf("link-%d", i), Next: head}
	}
	return head
}

func TestDump_Leaves(t *testing.T) {
	t.Parallel()

	q := resulttree.DefaultQuotas()
	tests := []struct {
		name      string
		value     any
		wantValue string
		wantType  string
	}{
		{"nil", nil, "<null>", ""},
		{"nil pointer", (*point)(nil), "<null>", "*resulttree_test.point"},
		{"string", "hello", "hello", "string"},
		{"int", 42, "42", "int"},
		{"bool", true, "true", "bool"},
		{"bytes", []byte("raw"), "raw", "[]uint8"},
		{"float", 1.5, "1.5", "float64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := resulttree.Dump(tt.value, q)
			if n.ValueString() != tt.wantValue {
				t.Errorf("Value = %q, want %q", n.ValueString(), tt.wantValue)
			}
			if n.TypeString() != tt.wantType {
				t.Errorf("Type = %q, want %q", n.TypeString(), tt.wantType)
			}
			if len(n.Children) != 0 {
				t.Errorf("leaf has %d children", len(n.Children))
			}
		})
	}
}

func TestDump_StringTruncation(t *testing.T) {
	t.Parallel()

	q := resulttree.Quotas{MaxDepth: 1, MaxStringLength: 5}
	n := resulttree.Dump("abcdefghij", q)
	if n.ValueString() != "abcde..." {
		t.Errorf("Value = %q, want %q", n.ValueString(), "abcde...")
	}

	q.MaxStringLength = 0
	if n := resulttree.Dump("abcdefghij", q); n.ValueString() != "abcdefghij" {
		t.Errorf("Value with no limit = %q", n.ValueString())
	}
}

func TestDump_DepthBound(t *testing.T) {
	t.Parallel()

	value := longChain(10)
	for depth := range 6 {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			t.Parallel()

			q := resulttree.Quotas{MaxDepth: depth, MaxExpandedDepth: depth, MaxEnumerableLength: 10}
			root := resulttree.Dump(value, q)
			walkNodes(root, 0, func(n *resulttree.Node, level int) {
				if level >= depth && len(n.Children) > 0 {
					t.Errorf("node %q at level %d has %d children with max depth %d",
						n.HeaderString(), level, len(n.Children), depth)
				}
			})
			if got := root.Depth(); got > depth+1 {
				t.Errorf("tree depth = %d, want at most %d", got, depth+1)
			}
		})
	}
}

func TestDump_ZeroDepthIsSummaryLeaf(t *testing.T) {
	t.Parallel()

	q := resulttree.Quotas{MaxEnumerableLength: 10}
	n := resulttree.DumpWithHeader("items", []int{1, 2, 3}, q)
	if len(n.Children) != 0 {
		t.Fatalf("children = %d, want 0", len(n.Children))
	}
	if n.HeaderString() != "items" {
		t.Errorf("Header = %q, want %q", n.HeaderString(), "items")
	}
	if n.ValueString() != "<enumerable Count: 3>" {
		t.Errorf("Value = %q, want %q", n.ValueString(), "<enumerable Count: 3>")
	}
}

func TestDump_EnumerableCap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		items     []int
		limit     int
		wantCount int
		wantValue string
	}{
		{"under cap", []int{1, 2}, 3, 2, "<enumerable Count: 2>"},
		{"exactly cap", []int{1, 2, 3}, 3, 3, "<enumerable Count: 3>"},
		{"over cap", []int{1, 2, 3, 4, 5}, 3, 3, "<enumerable Count: 3+>"},
		{"zero cap", []int{1}, 0, 0, "<enumerable Count: 0+>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := resulttree.Quotas{MaxDepth: 2, MaxExpandedDepth: 1, MaxEnumerableLength: tt.limit}
			n := resulttree.Dump(tt.items, q)
			if len(n.Children) != tt.wantCount {
				t.Errorf("children = %d, want %d", len(n.Children), tt.wantCount)
			}
			if n.ValueString() != tt.wantValue {
				t.Errorf("Value = %q, want %q", n.ValueString(), tt.wantValue)
			}
		})
	}
}

func TestDump_IteratorIsNotBufferedPastCap(t *testing.T) {
	t.Parallel()

	pulled := 0
	var naturals iter.Seq[int] = func(yield func(int) bool) {
		for i := 0; ; i++ {
			pulled++
			if !yield(i) {
				return
			}
		}
	}

	q := resulttree.Quotas{MaxDepth: 2, MaxEnumerableLength: 4}
	n := resulttree.Dump(naturals, q)
	if len(n.Children) != 4 {
		t.Fatalf("children = %d, want 4", len(n.Children))
	}
	if n.ValueString() != "<enumerable Count: 4+>" {
		t.Errorf("Value = %q", n.ValueString())
	}
	if pulled != 5 {
		t.Errorf("pulled %d items, want 5", pulled)
	}
}

func TestDump_CompositeMembersAreAlphabetical(t *testing.T) {
	t.Parallel()

	n := resulttree.Dump(point{Y: 2, X: 1, hidden: "no"}, resulttree.DefaultQuotas())
	if len(n.Children) != 2 {
		t.Fatalf("children = %d, want 2 (unexported fields skipped)", len(n.Children))
	}
	if n.Children[0].HeaderString() != "X" || n.Children[1].HeaderString() != "Y" {
		t.Errorf("member order = [%s %s], want [X Y]", n.Children[0].HeaderString(), n.Children[1].HeaderString())
	}
	if n.Children[0].ValueString() != "1" {
		t.Errorf("X = %q, want 1", n.Children[0].ValueString())
	}
	if n.ValueString() != "resulttree_test.point" {
		t.Errorf("summary = %q", n.ValueString())
	}
	if !n.Expanded {
		t.Error("root with expanded depth 1 should be expanded")
	}
	if n.Children[0].Expanded {
		t.Error("leaf should not be expanded")
	}
}

func TestDump_MapIsKeyed(t *testing.T) {
	t.Parallel()

	q := resulttree.Quotas{MaxDepth: 2, MaxEnumerableLength: 2}
	n := resulttree.Dump(map[string]int{"c": 3, "a": 1, "b": 2}, q)
	if n.ValueString() != "<map Count: 2+>" {
		t.Errorf("Value = %q, want %q", n.ValueString(), "<map Count: 2+>")
	}
	if len(n.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(n.Children))
	}
	if n.Children[0].HeaderString() != "a" || n.Children[1].HeaderString() != "b" {
		t.Errorf("keys = [%s %s], want [a b]", n.Children[0].HeaderString(), n.Children[1].HeaderString())
	}
}

func TestDump_GroupingSummary(t *testing.T) {
	t.Parallel()

	n := resulttree.Dump(named{"apple", "pear"}, resulttree.DefaultQuotas())
	if want := "<group Key: fruit Count: 2>"; n.ValueString() != want {
		t.Errorf("Value = %q, want %q", n.ValueString(), want)
	}
}

func TestDump_FailingMembersAreIsolated(t *testing.T) {
	t.Parallel()

	f := &faulty{}
	n := resulttree.Dump(f, resulttree.DefaultQuotas())
	if len(n.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(n.Children))
	}

	byName := map[string]*resulttree.Node{}
	for _, c := range n.Children {
		byName[c.HeaderString()] = c
	}

	if got := byName["Ok"].ValueString(); got != "fine" {
		t.Errorf("Ok = %q, want fine", got)
	}

	failing := byName["Failing"]
	if got := failing.ValueString(); got != "Threw *errors.errorString" {
		t.Errorf("Failing = %q", got)
	}
	if len(failing.Children) != 1 || !failing.Children[0].IsException() {
		t.Fatalf("Failing should carry one exception child, got %+v", failing.Children)
	}
	if msg := failing.Children[0].Exception.Message; msg != "getter failed" {
		t.Errorf("Failing message = %q", msg)
	}

	panicking := byName["Panicking"]
	if got := panicking.ValueString(); got != "Threw panic" {
		t.Errorf("Panicking = %q", got)
	}
	if len(panicking.Children) != 1 {
		t.Fatalf("Panicking children = %d, want 1", len(panicking.Children))
	}
	exc := panicking.Children[0].Exception
	if exc == nil || exc.Message != "boom" {
		t.Fatalf("Panicking exception = %+v, want message boom", exc)
	}
	if exc.LineNumber != f.panicLine {
		t.Errorf("LineNumber = %d, want %d", exc.LineNumber, f.panicLine)
	}
}

func TestDump_FailingMemberAtDepthLimitIsLeaf(t *testing.T) {
	t.Parallel()

	q := resulttree.Quotas{MaxDepth: 1, MaxEnumerableLength: 10}
	n := resulttree.Dump(&faulty{}, q)
	for _, c := range n.Children {
		if len(c.Children) != 0 {
			t.Errorf("member %q beyond depth limit has children", c.HeaderString())
		}
	}
}

func TestDump_Error(t *testing.T) {
	t.Parallel()

	base := errors.New("disk full")
	err := fmt.Errorf("write report: %w", base)

	n := resulttree.Dump(err, resulttree.DefaultQuotas())
	if !n.IsException() {
		t.Fatal("error should produce an exception node")
	}
	if n.Exception.Message != "write report: disk full" {
		t.Errorf("Message = %q", n.Exception.Message)
	}
	if n.Exception.LineNumber != 0 {
		t.Errorf("LineNumber = %d, want 0 for an error without a stack", n.Exception.LineNumber)
	}
	if len(n.Children) != 1 || n.Children[0].HeaderString() != "Cause" {
		t.Fatalf("expected one Cause child, got %+v", n.Children)
	}
	if n.Children[0].Exception.Message != "disk full" {
		t.Errorf("cause message = %q", n.Children[0].Exception.Message)
	}
}

func TestDump_SelfReferencingPointer(t *testing.T) {
	t.Parallel()

	var x any
	x = &x

	n := resulttree.Dump(x, resulttree.DefaultQuotas())
	if got, want := n.ValueString(), "*interface {}"; got != want {
		t.Errorf("Dump value = %q, want %q", got, want)
	}
	if len(n.Children) != 0 {
		t.Errorf("children = %d, want a leaf", len(n.Children))
	}
	if got, want := resulttree.Summary(x, resulttree.DefaultQuotas()), "*interface {}"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}

	box := map[string]any{}
	box["self"] = &x
	if n := resulttree.Dump(box, resulttree.DefaultQuotas()); len(n.Children) != 1 {
		t.Errorf("map children = %d, want 1", len(n.Children))
	}
}

func TestDump_PanickingErrorMessageStaysLocal(t *testing.T) {
	t.Parallel()

	n := resulttree.Dump(throwsPanickingError{}, resulttree.DefaultQuotas())
	if len(n.Children) != 4 {
		t.Fatalf("children = %d, want 4", len(n.Children))
	}

	byName := map[string]*resulttree.Node{}
	for _, c := range n.Children {
		byName[c.HeaderString()] = c
	}

	if got := byName["Before"].ValueString(); got != "1" {
		t.Errorf("Before = %q, want 1", got)
	}
	if got := byName["Zafter"].ValueString(); got != "still here" {
		t.Errorf("Zafter = %q, want still here", got)
	}

	broken := byName["Broken"]
	if len(broken.Children) != 1 || broken.Children[0].Exception == nil {
		t.Fatalf("Broken should carry one exception child, got %+v", broken.Children)
	}
	if msg := broken.Children[0].Exception.Message; msg != "Threw panic" {
		t.Errorf("Broken message = %q, want Threw panic", msg)
	}

	stored := byName["Stored"]
	if stored.Exception == nil || stored.Exception.Message != "Threw panic" {
		t.Errorf("Stored exception = %+v, want message Threw panic", stored.Exception)
	}

	if got := resulttree.Summary(panickingError{}, resulttree.DefaultQuotas()); got != "Threw panic" {
		t.Errorf("Summary() = %q, want Threw panic", got)
	}
}

type scriptError struct{ line int }

func (e scriptError) Error() string   { return "script failed" }
func (e scriptError) LineNumber() int { return e.line }

func TestDump_ErrorLineNumberer(t *testing.T) {
	t.Parallel()

	n := resulttree.Dump(fmt.Errorf("wrapped: %w", scriptError{line: 7}), resulttree.DefaultQuotas())
	if n.Exception.LineNumber != 7 {
		t.Errorf("LineNumber = %d, want 7", n.Exception.LineNumber)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	q := resulttree.DefaultQuotas()
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "<null>"},
		{"slice", []string{"a", "b"}, "<enumerable Count: 2>"},
		{"map", map[int]int{1: 1}, "<map Count: 1>"},
		{"composite without String", strings.NewReplacer(), "*strings.Replacer"},
		{"error", errors.New("bad"), "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := resulttree.Summary(tt.value, q); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
