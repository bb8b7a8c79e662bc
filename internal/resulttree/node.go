// SPDX-License-Identifier: MPL-2.0

package resulttree

// NullValue is the value of a node built from a nil value.
const NullValue = "<null>"

type (
	// Node is one element of a result tree.
	//
	// Children is non-nil only for values that are not string-like and whose
	// quotas allowed expansion. The Value of a container node is a summary
	// such as "<enumerable Count: 5+>", never the raw object.
	Node struct {
		Header    *string
		Type      *string
		Value     *string
		Expanded  bool
		Children  []*Node
		Exception *ExceptionInfo
	}

	// ExceptionInfo marks a node as an exception node.
	ExceptionInfo struct {
		Message string
		// LineNumber is the line of the first frame attributable to user code, or 0.
		LineNumber int
	}
)

// NewLeaf builds a leaf node. Empty header or type name are left unset.
func NewLeaf(header, typeName, value string) *Node {
	return &Node{
		Header: optional(header),
		Type:   optional(typeName),
		Value:  &value,
	}
}

// IsException reports whether the node describes an error.
func (n *Node) IsException() bool {
	return n != nil && n.Exception != nil
}

// HeaderString returns the header or "" when unset.
func (n *Node) HeaderString() string { return deref(n.Header) }

// TypeString returns the type name or "" when unset.
func (n *Node) TypeString() string { return deref(n.Type) }

// ValueString returns the value or "" when unset.
func (n *Node) ValueString() string { return deref(n.Value) }

// Depth returns the number of levels in the tree rooted at n.
// A leaf has depth 1.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, c := range n.Children {
		deepest = max(deepest, c.Depth())
	}
	return deepest + 1
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
