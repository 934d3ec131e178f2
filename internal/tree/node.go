// Package tree holds the in-memory shape of a collected secret namespace.
//
// A tree is made of two node kinds: a Leaf carries the key/value fields of a
// single secret, an Internal node maps path segments to further nodes. Both
// keep insertion order, which is the order the backend reported.
package tree

// Node is either a *Leaf or an *Internal.
type Node interface {
	node()
}

// Field is a single key/value pair stored in a secret.
type Field struct {
	Key   string
	Value string
}

// Leaf is a secret: an ordered set of fields.
type Leaf struct {
	Fields []Field
}

// NewLeaf returns a leaf holding the given fields in order.
func NewLeaf(fields ...Field) *Leaf {
	return &Leaf{Fields: fields}
}

func (*Leaf) node() {}

// Get returns the value stored under key.
func (l *Leaf) Get(key string) (string, bool) {
	for _, f := range l.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key in place or appends a new field.
func (l *Leaf) Set(key, value string) {
	for i := range l.Fields {
		if l.Fields[i].Key == key {
			l.Fields[i].Value = value
			return
		}
	}
	l.Fields = append(l.Fields, Field{Key: key, Value: value})
}

// Child is a named entry of an Internal node.
type Child struct {
	Key  string
	Node Node
}

// Internal is a container: an ordered mapping from segment to node.
type Internal struct {
	children []Child
	index    map[string]int
}

// NewInternal returns an empty container.
func NewInternal() *Internal {
	return &Internal{index: make(map[string]int)}
}

func (*Internal) node() {}

// Set attaches n under key. An existing key keeps its position.
func (in *Internal) Set(key string, n Node) {
	if in.index == nil {
		in.index = make(map[string]int)
	}
	if i, ok := in.index[key]; ok {
		in.children[i].Node = n
		return
	}
	in.index[key] = len(in.children)
	in.children = append(in.children, Child{Key: key, Node: n})
}

// Get returns the child stored under key.
func (in *Internal) Get(key string) (Node, bool) {
	i, ok := in.index[key]
	if !ok {
		return nil, false
	}
	return in.children[i].Node, true
}

// Len returns the number of children.
func (in *Internal) Len() int {
	return len(in.children)
}

// Keys returns the child keys in insertion order.
func (in *Internal) Keys() []string {
	keys := make([]string, len(in.children))
	for i, c := range in.children {
		keys[i] = c.Key
	}
	return keys
}

// Children returns a copy of the children in insertion order.
func (in *Internal) Children() []Child {
	out := make([]Child, len(in.children))
	copy(out, in.children)
	return out
}

// IsEmpty reports whether n carries no secrets at its own level: a nil node,
// a leaf without fields or a container without children.
func IsEmpty(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *Leaf:
		return len(v.Fields) == 0
	case *Internal:
		return v.Len() == 0
	}
	return false
}
