// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/invowk/scriptbox/internal/resulttree"
)

func TestSentinel_WireShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Sentinel())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"object","v":"<max results reached>"}`
	if string(data) != want {
		t.Errorf("sentinel = %s, want %s", data, want)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !r.IsSentinel() {
		t.Error("decoded sentinel is not recognized")
	}
}

func TestFromNode_Leaf(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(FromNode(resulttree.DumpWithHeader("answer", 42, resulttree.DefaultQuotas())))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"object","t":"int","h":"answer","v":"42"}`
	if string(data) != want {
		t.Errorf("record = %s, want %s", data, want)
	}
}

func TestFromNode_Exception(t *testing.T) {
	t.Parallel()

	rec := FromNode(resulttree.Dump(errors.New("boom"), resulttree.DefaultQuotas()))
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, fragment := range []string{`"$type":"Exception"`, `"m":"boom"`, `"l":0`, `"v":"boom"`} {
		if !strings.Contains(string(data), fragment) {
			t.Errorf("record %s is missing %s", data, fragment)
		}
	}
	if rec.IsSentinel() {
		t.Error("exception record must not be a sentinel")
	}
}

func TestRecord_NodeRoundTripKeepsStructure(t *testing.T) {
	t.Parallel()

	type pair struct {
		Left  []int
		Right error
	}
	q := resulttree.Quotas{MaxDepth: 3, MaxExpandedDepth: 1, MaxEnumerableLength: 2}
	orig := resulttree.Dump(pair{Left: []int{1, 2, 3}, Right: errors.New("bad")}, q)

	data, err := json.Marshal(FromNode(orig))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	got := rec.Node()

	if got.Depth() != orig.Depth() {
		t.Errorf("Depth() = %d, want %d", got.Depth(), orig.Depth())
	}
	left := got.Children[0]
	if left.ValueString() != "<enumerable Count: 2+>" || len(left.Children) != 2 {
		t.Errorf("Left = %q with %d children", left.ValueString(), len(left.Children))
	}
	right := got.Children[1]
	if !right.IsException() || right.Exception.Message != "bad" {
		t.Errorf("Right = %+v, want exception bad", right)
	}
	if !got.Expanded || left.Expanded {
		t.Errorf("expanded flags = %v/%v, want true/false", got.Expanded, left.Expanded)
	}
}
