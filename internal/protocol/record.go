// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"github.com/invowk/scriptbox/internal/resulttree"
)

const (
	// RecordType is the "type" of every record.
	RecordType = "object"
	// ExceptionType is the "$type" of exception records.
	ExceptionType = "Exception"
	// MaxResultsReached is the value of the sentinel record.
	MaxResultsReached = "<max results reached>"
)

// Record is the wire form of a resulttree.Node.
//
//	{"type":"object","t":<type>,"h":<header>,"v":<value>,"x":<expanded>,"c":[...]}
//
// Exception records add "$type":"Exception", "m" and "l".
type Record struct {
	Type    string    `json:"type"`
	Kind    string    `json:"$type,omitempty"`
	T       *string   `json:"t,omitempty"`
	H       *string   `json:"h,omitempty"`
	V       *string   `json:"v,omitempty"`
	X       bool      `json:"x,omitempty"`
	C       []*Record `json:"c,omitempty"`
	Message *string   `json:"m,omitempty"`
	Line    *int      `json:"l,omitempty"`
}

// Sentinel returns the record sent once the session dump cap is reached.
func Sentinel() *Record {
	v := MaxResultsReached
	return &Record{Type: RecordType, V: &v}
}

// IsSentinel reports whether r is the max-results sentinel.
func (r *Record) IsSentinel() bool {
	return r != nil && sentinelShape(r.T, r.H, r.V, r.Kind != "", r.C == nil)
}

// IsSentinelNode reports whether n, decoded from a record, is the
// max-results sentinel.
func IsSentinelNode(n *resulttree.Node) bool {
	return n != nil && sentinelShape(n.Type, n.Header, n.Value, n.Exception != nil, n.Children == nil)
}

// sentinelShape matches a typeless, headerless leaf whose value is
// MaxResultsReached. Every other record carries a type or a header.
func sentinelShape(typ, header, value *string, exception, leaf bool) bool {
	return typ == nil && header == nil && leaf && !exception &&
		value != nil && *value == MaxResultsReached
}

// FromNode converts a result tree into its wire form.
func FromNode(n *resulttree.Node) *Record {
	if n == nil {
		return nil
	}
	r := &Record{
		Type: RecordType,
		T:    n.Type,
		H:    n.Header,
		V:    n.Value,
		X:    n.Expanded,
	}
	if n.Exception != nil {
		msg := n.Exception.Message
		line := n.Exception.LineNumber
		r.Kind = ExceptionType
		r.Message = &msg
		r.Line = &line
	}
	if n.Children != nil {
		r.C = make([]*Record, len(n.Children))
		for i, c := range n.Children {
			r.C[i] = FromNode(c)
		}
	}
	return r
}

// Node converts the record back into a result tree.
func (r *Record) Node() *resulttree.Node {
	if r == nil {
		return nil
	}
	n := &resulttree.Node{
		Header:   r.H,
		Type:     r.T,
		Value:    r.V,
		Expanded: r.X,
	}
	if r.Kind == ExceptionType {
		n.Exception = &resulttree.ExceptionInfo{}
		if r.Message != nil {
			n.Exception.Message = *r.Message
		}
		if r.Line != nil {
			n.Exception.LineNumber = *r.Line
		}
	}
	if r.C != nil {
		n.Children = make([]*resulttree.Node, len(r.C))
		for i, c := range r.C {
			n.Children[i] = c.Node()
		}
	}
	return n
}
