// SPDX-License-Identifier: MPL-2.0

package resulttree

import (
	"cmp"
	"encoding"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/sourcegraph/conc/panics"
)

const (
	truncationSuffix = "..."

	// panicMessage stands in for the text of a value whose Error or String
	// method panicked.
	panicMessage = "Threw panic"

	// maxIndirections bounds pointer and interface chains, which may be
	// cyclic.
	maxIndirections = 64
)

type (
	// Member is one named value of a Dumpable.
	Member struct {
		Name string
		// Get reads the member. A panic or a non-nil error is rendered as a
		// "Threw" child without aborting the rest of the dump.
		Get func() (any, error)
	}

	// Dumpable lets a type choose the members shown as its children.
	Dumpable interface {
		DumpMembers() []Member
	}

	// Grouping is implemented by enumerables whose items share a key.
	Grouping interface {
		GroupKey() any
	}
)

// Dump builds the result tree for v.
func Dump(v any, q Quotas) *Node {
	return dump(nil, v, q)
}

// DumpWithHeader builds the result tree for v with a header on the root node.
func DumpWithHeader(header string, v any, q Quotas) *Node {
	return dump(optional(header), v, q)
}

// Summary returns the one-line description of v used when v is not expanded.
func Summary(v any, q Quotas) string {
	if isNil(v) {
		return NullValue
	}
	if err, ok := v.(error); ok {
		return truncate(errorMessage(err), q.MaxStringLength)
	}
	if s, ok := stringLike(v); ok {
		return truncate(s, q.MaxStringLength)
	}
	rv := indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return enumerableSummary(v, rv.Len(), false)
	case reflect.Map:
		return fmt.Sprintf("<map Count: %d>", rv.Len())
	case reflect.Func:
		if rv.Type().CanSeq() || rv.Type().CanSeq2() {
			return "<enumerable>"
		}
	}
	return compositeSummary(v)
}

func dump(header *string, v any, q Quotas) *Node {
	if isNil(v) {
		null := NullValue
		return &Node{Header: header, Type: optional(typeNameOf(v)), Value: &null}
	}
	if err, ok := v.(error); ok {
		return exceptionNode(header, err, q)
	}

	typeName := optional(typeNameOf(v))
	if q.MaxDepth == 0 {
		summary := Summary(v, q)
		return &Node{Header: header, Type: typeName, Value: &summary}
	}
	if s, ok := stringLike(v); ok {
		s = truncate(s, q.MaxStringLength)
		return &Node{Header: header, Type: typeName, Value: &s}
	}
	if d, ok := v.(Dumpable); ok {
		return dumpMembers(header, typeName, compositeSummary(v), d.DumpMembers(), q)
	}

	rv := indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return dumpEnumerable(header, typeName, v, indexed(rv), q)
	case reflect.Map:
		return dumpMap(header, typeName, rv, q)
	case reflect.Struct:
		return dumpMembers(header, typeName, compositeSummary(v), fieldMembers(rv), q)
	case reflect.Func:
		if rv.Type().CanSeq2() {
			return dumpPairs(header, typeName, rv.Seq2(), q)
		}
		if rv.Type().CanSeq() {
			return dumpEnumerable(header, typeName, v, rv.Seq(), q)
		}
	}

	summary := compositeSummary(v)
	return &Node{Header: header, Type: typeName, Value: &summary}
}

// dumpEnumerable pulls at most MaxEnumerableLength items plus one look-ahead item
// from seq.
func dumpEnumerable(header, typeName *string, v any, seq iter.Seq[reflect.Value], q Quotas) *Node {
	next := q.StepDown()
	children := make([]*Node, 0, min(q.MaxEnumerableLength, 64))
	truncated := false
	for item := range seq {
		if len(children) == q.MaxEnumerableLength {
			truncated = true
			break
		}
		children = append(children, dump(nil, interfaceOf(item), next))
	}
	return container(header, typeName, enumerableSummary(v, len(children), truncated), children, q)
}

func dumpPairs(header, typeName *string, seq iter.Seq2[reflect.Value, reflect.Value], q Quotas) *Node {
	next := q.StepDown()
	var children []*Node
	truncated := false
	for k, item := range seq {
		if len(children) == q.MaxEnumerableLength {
			truncated = true
			break
		}
		children = append(children, dump(optional(keyString(k)), interfaceOf(item), next))
	}
	return container(header, typeName, countSummary("enumerable", len(children), truncated), children, q)
}

func dumpMap(header, typeName *string, rv reflect.Value, q Quotas) *Node {
	keys := rv.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return cmp.Compare(keyString(a), keyString(b))
	})

	next := q.StepDown()
	limit := min(len(keys), q.MaxEnumerableLength)
	children := make([]*Node, 0, limit)
	for _, k := range keys[:limit] {
		children = append(children, dump(optional(keyString(k)), interfaceOf(rv.MapIndex(k)), next))
	}
	return container(header, typeName, countSummary("map", limit, len(keys) > limit), children, q)
}

func dumpMembers(header, typeName *string, summary string, members []Member, q Quotas) *Node {
	slices.SortStableFunc(members, func(a, b Member) int {
		return cmp.Compare(a.Name, b.Name)
	})

	next := q.StepDown()
	children := make([]*Node, 0, len(members))
	for _, m := range members {
		children = append(children, dumpMember(m, next))
	}
	return container(header, typeName, summary, children, q)
}

// dumpMember reads one member, turning a failing getter into a "Threw" node.
func dumpMember(m Member, q Quotas) *Node {
	var (
		val    any
		getErr error
	)
	if r := panics.Try(func() { val, getErr = m.Get() }); r != nil {
		return threw(m.Name, "panic", NewPanicError(r), q)
	}
	if getErr != nil {
		return threw(m.Name, typeNameOf(getErr), getErr, q)
	}
	return dump(optional(m.Name), val, q)
}

func threw(name, kind string, err error, q Quotas) *Node {
	value := "Threw " + kind
	n := &Node{Header: optional(name), Value: &value}
	if q.MaxDepth > 0 {
		n.Children = []*Node{exceptionNode(nil, err, q.StepDown())}
		n.Expanded = q.MaxExpandedDepth > 0
	}
	return n
}

func container(header, typeName *string, summary string, children []*Node, q Quotas) *Node {
	return &Node{
		Header:   header,
		Type:     typeName,
		Value:    &summary,
		Expanded: len(children) > 0 && q.MaxExpandedDepth > 0,
		Children: children,
	}
}

// fieldMembers lists the exported fields of a struct value.
func fieldMembers(rv reflect.Value) []Member {
	t := rv.Type()
	members := make([]Member, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		members = append(members, Member{
			Name: f.Name,
			Get: func() (any, error) {
				return interfaceOf(rv.Field(i)), nil
			},
		})
	}
	return members
}

func indexed(rv reflect.Value) iter.Seq[reflect.Value] {
	return func(yield func(reflect.Value) bool) {
		for i := range rv.Len() {
			if !yield(rv.Index(i)) {
				return
			}
		}
	}
}

func enumerableSummary(v any, count int, truncated bool) string {
	if g, ok := v.(Grouping); ok {
		return fmt.Sprintf("<group Key: %v Count: %d%s>", g.GroupKey(), count, plus(truncated))
	}
	return countSummary("enumerable", count, truncated)
}

func countSummary(kind string, count int, truncated bool) string {
	return fmt.Sprintf("<%s Count: %d%s>", kind, count, plus(truncated))
}

func plus(truncated bool) string {
	if truncated {
		return "+"
	}
	return ""
}

// compositeSummary returns String() when available and the type name otherwise.
func compositeSummary(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		if str, ok := safeString(s.String); ok {
			return str
		}
	}
	return typeNameOf(v)
}

// stringLike reports whether v is rendered as a single leaf value.
func stringLike(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case encoding.TextMarshaler:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Struct || rv.Kind() == reflect.Pointer {
			var text []byte
			var err error
			if r := panics.Try(func() { text, err = x.MarshalText() }); r == nil && err == nil {
				return string(text), true
			}
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		if s, ok := v.(fmt.Stringer); ok {
			if str, ok := safeString(s.String); ok {
				return str, true
			}
		}
		return scalarString(rv), true
	default:
		return "", false
	}
}

func scalarString(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	default:
		return fmt.Sprint(rv.Interface())
	}
}

func safeString(fn func() string) (string, bool) {
	var s string
	if r := panics.Try(func() { s = fn() }); r != nil {
		return "", false
	}
	return s, true
}

func keyString(k reflect.Value) string {
	if s, ok := stringLike(interfaceOf(k)); ok {
		return s
	}
	return fmt.Sprint(interfaceOf(k))
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationSuffix
}

func typeNameOf(v any) string {
	if v == nil {
		return ""
	}
	return reflect.TypeOf(v).String()
}

// isNil reports whether v is nil or a nil pointer, map, slice, interface,
// func or channel.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}

// indirect follows pointers and interfaces down to the first concrete
// value. A chain longer than maxIndirections is returned unresolved, so a
// cyclic chain is rendered by its summary.
func indirect(rv reflect.Value) reflect.Value {
	for range maxIndirections {
		if rv.Kind() != reflect.Pointer && rv.Kind() != reflect.Interface {
			return rv
		}
		if rv.IsNil() {
			return rv
		}
		rv = rv.Elem()
	}
	return rv
}

func interfaceOf(rv reflect.Value) any {
	if !rv.IsValid() || !rv.CanInterface() {
		return nil
	}
	return rv.Interface()
}
