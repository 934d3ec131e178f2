package tree

import "strings"

// Entry is one field of one leaf, together with the path leading to it.
type Entry struct {
	Segments []string // path from the root, excluding the field key
	Key      string
	Value    string
}

// Path joins the segments the way backend listings spell them: container
// segments already end in "/", so no separator is added.
func (e Entry) Path() string {
	return strings.Join(e.Segments, "")
}

// Flatten walks the tree depth-first in insertion order and returns one entry
// per leaf field.
func Flatten(root Node) []Entry {
	var entries []Entry
	flatten(root, nil, &entries)
	return entries
}

func flatten(n Node, segments []string, out *[]Entry) {
	switch v := n.(type) {
	case *Leaf:
		for _, f := range v.Fields {
			*out = append(*out, Entry{
				Segments: segments,
				Key:      f.Key,
				Value:    f.Value,
			})
		}
	case *Internal:
		for _, c := range v.children {
			// full slice expression so siblings never share a backing array
			next := append(segments[:len(segments):len(segments)], c.Key)
			flatten(c.Node, next, out)
		}
	}
}

// Equal reports whether a and b have the same shape, keys, values and order.
// Empty leaves and empty containers compare equal since both render as an
// empty mapping.
func Equal(a, b Node) bool {
	if IsEmpty(a) && IsEmpty(b) {
		return true
	}
	switch av := a.(type) {
	case *Leaf:
		bv, ok := b.(*Leaf)
		if !ok || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if av.Fields[i] != bv.Fields[i] {
				return false
			}
		}
		return true
	case *Internal:
		bv, ok := b.(*Internal)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i, c := range av.children {
			other := bv.children[i]
			if c.Key != other.Key || !Equal(c.Node, other.Node) {
				return false
			}
		}
		return true
	}
	return false
}

// Mask returns a copy of l with every value replaced by sentinel.
func (l *Leaf) Mask(sentinel string) *Leaf {
	masked := make([]Field, len(l.Fields))
	for i, f := range l.Fields {
		masked[i] = Field{Key: f.Key, Value: sentinel}
	}
	return &Leaf{Fields: masked}
}
