package serialize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// DefaultIndent is the JSON indentation used when none is configured.
const DefaultIndent = 2

// ErrMalformedTree reports a document or script that does not describe a
// secret tree.
var ErrMalformedTree = errors.New("malformed secret tree")

// Document is an ordered nested mapping. Values are strings or *Document.
type Document = orderedmap.OrderedMap[string, any]

func newDocument() *Document {
	return orderedmap.New[string, any](orderedmap.WithDisableHTMLEscape[string, any]())
}

// ToDocument renders n as an ordered nested mapping.
func ToDocument(n tree.Node) *Document {
	doc := newDocument()
	switch v := n.(type) {
	case *tree.Leaf:
		for _, f := range v.Fields {
			doc.Set(f.Key, f.Value)
		}
	case *tree.Internal:
		for _, c := range v.Children() {
			doc.Set(c.Key, ToDocument(c.Node))
		}
	}
	return doc
}

// JSON renders n as a JSON document. indent <= 0 produces compact output.
func JSON(n tree.Node, indent int) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent > 0 {
		enc.SetIndent("", strings.Repeat(" ", indent))
	}
	if err := enc.Encode(ToDocument(n)); err != nil {
		return nil, fmt.Errorf("encoding json document: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// YAML renders n as a YAML document.
func YAML(n tree.Node) ([]byte, error) {
	data, err := yaml.Marshal(ToDocument(n))
	if err != nil {
		return nil, fmt.Errorf("encoding yaml document: %w", err)
	}
	return data, nil
}

// LoadDocument reads a JSON or YAML document produced by JSON or YAML back
// into a tree. Mappings of strings become leaves, mappings of mappings become
// containers.
func LoadDocument(data []byte) (tree.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return tree.NewInternal(), nil
	}
	return fromYAML(doc.Content[0], "")
}

func fromYAML(n *yaml.Node, at string) (tree.Node, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: %q is not a mapping", ErrMalformedTree, n.Line, at)
	}

	var scalars, mappings int
	for i := 1; i < len(n.Content); i += 2 {
		v := n.Content[i]
		if v.Kind == yaml.AliasNode && v.Alias != nil {
			v = v.Alias
		}
		switch v.Kind {
		case yaml.ScalarNode:
			scalars++
		case yaml.MappingNode:
			mappings++
		default:
			return nil, fmt.Errorf("%w: line %d: unsupported value under %q", ErrMalformedTree, v.Line, at+n.Content[i-1].Value)
		}
	}
	if scalars > 0 && mappings > 0 {
		return nil, fmt.Errorf("%w: line %d: %q mixes fields and sub-paths", ErrMalformedTree, n.Line, at)
	}

	if scalars > 0 {
		leaf := tree.NewLeaf()
		for i := 0; i+1 < len(n.Content); i += 2 {
			leaf.Set(n.Content[i].Value, scalarValue(n.Content[i+1]))
		}
		return leaf, nil
	}

	in := tree.NewInternal()
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		child, err := fromYAML(n.Content[i+1], at+key)
		if err != nil {
			return nil, err
		}
		in.Set(key, child)
	}
	return in, nil
}

func scalarValue(n *yaml.Node) string {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Tag == "!!null" {
		return ""
	}
	return n.Value
}
