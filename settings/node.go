package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes the three node shapes of a settings tree.
type Kind uint8

const (
	// KindObject is a node with named children, unique case-insensitively.
	KindObject Kind = iota
	// KindArray is a node with an ordered list of children.
	KindArray
	// KindValue is a leaf holding a string.
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindValue:
		return "value"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Node is an immutable settings tree node. A nil *Node is a valid, absent
// tree: all accessors are nil-safe.
//
// Object children are kept sorted by lowercased name so lookups are
// case-insensitive and two equal trees always have the same layout.
type Node struct {
	name     string
	kind     Kind
	value    string
	children []*Node
}

// NewValue returns a leaf node.
func NewValue(name, value string) *Node {
	return &Node{name: name, kind: KindValue, value: value}
}

// NewObject returns an object node. Nil children are skipped. When two
// children share a name (ignoring case) the later one wins.
func NewObject(name string, children ...*Node) *Node {
	byKey := make(map[string]*Node, len(children))
	for _, c := range children {
		if c == nil {
			continue
		}
		byKey[strings.ToLower(c.name)] = c
	}
	sorted := make([]*Node, 0, len(byKey))
	for _, c := range byKey {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].name) < strings.ToLower(sorted[j].name)
	})
	return &Node{name: name, kind: KindObject, children: sorted}
}

// NewArray returns an array node. Items are renamed to their index.
func NewArray(name string, items ...*Node) *Node {
	out := make([]*Node, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, it.WithName(strconv.Itoa(len(out))))
	}
	return &Node{name: name, kind: KindArray, children: out}
}

// Name returns the node's own name. The root of a tree has an empty name.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

// Kind returns the node shape.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindValue
	}
	return n.kind
}

// Value returns the leaf value, or "" for containers.
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return n.value
}

// Children returns the child nodes. The returned slice must not be modified.
func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	return n.children
}

// Len returns the number of children.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.children)
}

// Child looks up a direct child. Object lookups ignore case; array
// lookups take a decimal index.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindObject:
		key := strings.ToLower(name)
		i := sort.Search(len(n.children), func(i int) bool {
			return strings.ToLower(n.children[i].name) >= key
		})
		if i < len(n.children) && strings.EqualFold(n.children[i].name, name) {
			return n.children[i]
		}
	case KindArray:
		idx, err := strconv.Atoi(name)
		if err == nil && idx >= 0 && idx < len(n.children) {
			return n.children[idx]
		}
	}
	return nil
}

// Scope descends through the given segments and returns the node found
// there, or nil when any segment is missing.
func (n *Node) Scope(segments ...string) *Node {
	cur := n
	for _, seg := range segments {
		if cur == nil {
			return nil
		}
		cur = cur.Child(seg)
	}
	return cur
}

// ScopePath is Scope for a parsed Path.
func (n *Node) ScopePath(p Path) *Node {
	return n.Scope(p.Segments()...)
}

// WithName returns a shallow copy of n carrying a different name.
func (n *Node) WithName(name string) *Node {
	if n == nil {
		return nil
	}
	if n.name == name {
		return n
	}
	cp := *n
	cp.name = name
	return &cp
}

// Equal reports whether two trees have the same shape, names (ignoring
// case) and values.
func Equal(a, b *Node) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind != b.kind || !strings.EqualFold(a.name, b.name) || a.value != b.value {
		return false
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// Interface converts the tree to plain Go values: map[string]any for
// objects, []any for arrays and string for values.
func (n *Node) Interface() any {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindObject:
		m := make(map[string]any, len(n.children))
		for _, c := range n.children {
			m[c.name] = c.Interface()
		}
		return m
	case KindArray:
		s := make([]any, 0, len(n.children))
		for _, c := range n.children {
			s = append(s, c.Interface())
		}
		return s
	default:
		return n.value
	}
}

// MarshalJSON renders the tree as plain JSON.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Interface())
}

// String renders the tree as indented JSON, for logs and debugging.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	data, err := json.MarshalIndent(n.Interface(), "", "  ")
	if err != nil {
		return fmt.Sprintf("<%s %q>", n.kind, n.name)
	}
	return string(data)
}

// FromValue builds a tree from decoded JSON, YAML or TOML data. Maps
// become objects, slices become arrays and scalars become values.
// A nil input yields a nil node.
func FromValue(name string, v any) *Node {
	switch t := v.(type) {
	case nil:
		return nil
	case *Node:
		return t.WithName(name)
	case map[string]any:
		children := make([]*Node, 0, len(t))
		for k, cv := range t {
			children = append(children, FromValue(k, cv))
		}
		return NewObject(name, children...)
	case map[any]any:
		children := make([]*Node, 0, len(t))
		for k, cv := range t {
			children = append(children, FromValue(fmt.Sprint(k), cv))
		}
		return NewObject(name, children...)
	case []map[string]any:
		items := make([]*Node, 0, len(t))
		for _, it := range t {
			items = append(items, FromValue("", it))
		}
		return NewArray(name, items...)
	case []any:
		items := make([]*Node, 0, len(t))
		for _, it := range t {
			items = append(items, FromValue("", it))
		}
		return NewArray(name, items...)
	case []string:
		items := make([]*Node, 0, len(t))
		for _, it := range t {
			items = append(items, NewValue("", it))
		}
		return NewArray(name, items...)
	default:
		return NewValue(name, scalarString(v))
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func lower(s string) string {
	return strings.ToLower(s)
}
