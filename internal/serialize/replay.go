package serialize

import (
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// ParseCommands reads a replay script produced by Commands and rebuilds the
// tree below prefix. Lines targeting the same address are merged in order.
func ParseCommands(r io.Reader, name, prefix string) (tree.Node, error) {
	file, err := syntax.NewParser().Parse(r, name)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	prefix = NormalizePrefix(prefix)
	root := tree.NewInternal()
	var rootLeaf *tree.Leaf

	for _, stmt := range file.Stmts {
		pos := stmt.Pos()
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok || len(call.Args) < 4 {
			return nil, fmt.Errorf("%w: %s:%s: not a %q command", ErrMalformedTree, name, pos, Verb)
		}

		for _, w := range call.Args {
			if err := literalOnly(w); err != nil {
				return nil, fmt.Errorf("%s:%s: %w", name, pos, err)
			}
		}

		words := make([]string, 4)
		for i := range words {
			if words[i], err = expand.Literal(nil, call.Args[i]); err != nil {
				return nil, fmt.Errorf("%s:%s: %w", name, pos, err)
			}
		}
		if strings.Join(words[:3], " ") != Verb {
			return nil, fmt.Errorf("%w: %s:%s: unexpected command %q", ErrMalformedTree, name, pos, strings.Join(words[:3], " "))
		}

		pairs := make([]tree.Field, 0, len(call.Args)-4)
		for _, w := range call.Args[4:] {
			f, err := splitPair(w)
			if err != nil {
				return nil, fmt.Errorf("%s:%s: %w", name, pos, err)
			}
			pairs = append(pairs, f)
		}

		addr := words[3]
		if addr == strings.TrimSuffix(prefix, "/") {
			if root.Len() > 0 {
				return nil, fmt.Errorf("%w: %s:%s: %q is both a secret and a path", ErrMalformedTree, name, pos, addr)
			}
			if rootLeaf == nil {
				rootLeaf = tree.NewLeaf()
			}
			for _, p := range pairs {
				rootLeaf.Set(p.Key, p.Value)
			}
			continue
		}
		if !strings.HasPrefix(addr, prefix) {
			return nil, fmt.Errorf("%w: %s:%s: %q is outside %q", ErrMalformedTree, name, pos, addr, prefix)
		}
		if rootLeaf != nil {
			return nil, fmt.Errorf("%w: %s:%s: %q is both a secret and a path", ErrMalformedTree, name, pos, prefix)
		}
		if err := insert(root, splitSegments(strings.TrimPrefix(addr, prefix)), pairs); err != nil {
			return nil, fmt.Errorf("%s:%s: %w", name, pos, err)
		}
	}

	if rootLeaf != nil {
		return rootLeaf, nil
	}
	return root, nil
}

// literalOnly rejects words whose value depends on the environment, such as
// parameter expansions or command substitutions.
func literalOnly(w *syntax.Word) error {
	var dynamic syntax.Node
	syntax.Walk(w, func(n syntax.Node) bool {
		switch n.(type) {
		case nil, *syntax.Word, *syntax.Lit, *syntax.SglQuoted, *syntax.DblQuoted:
			return dynamic == nil
		}
		if dynamic == nil {
			dynamic = n
		}
		return false
	})
	if dynamic != nil {
		return fmt.Errorf("%w: expansion at %s is not allowed", ErrMalformedTree, dynamic.Pos())
	}
	return nil
}

// splitPair splits a key=value word at the first unquoted "=".
func splitPair(w *syntax.Word) (tree.Field, error) {
	for i, part := range w.Parts {
		lit, ok := part.(*syntax.Lit)
		if !ok {
			continue
		}
		before, after, found := strings.Cut(lit.Value, "=")
		if !found {
			continue
		}

		keyParts := append(append([]syntax.WordPart(nil), w.Parts[:i]...), &syntax.Lit{Value: before})
		valParts := append([]syntax.WordPart{&syntax.Lit{Value: after}}, w.Parts[i+1:]...)

		key, err := expand.Literal(nil, &syntax.Word{Parts: keyParts})
		if err != nil {
			return tree.Field{}, err
		}
		val, err := expand.Literal(nil, &syntax.Word{Parts: valParts})
		if err != nil {
			return tree.Field{}, err
		}
		return tree.Field{Key: key, Value: val}, nil
	}
	return tree.Field{}, fmt.Errorf("%w: argument without key=value form", ErrMalformedTree)
}

// splitSegments cuts a path after every "/", so "app/db" becomes
// ["app/", "db"], matching how backend listings name containers.
func splitSegments(path string) []string {
	var segs []string
	for path != "" {
		i := strings.Index(path, "/")
		if i < 0 {
			segs = append(segs, path)
			break
		}
		segs = append(segs, path[:i+1])
		path = path[i+1:]
	}
	return segs
}

func insert(root *tree.Internal, segs []string, pairs []tree.Field) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty secret address", ErrMalformedTree)
	}

	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Get(seg)
		if !ok {
			child := tree.NewInternal()
			cur.Set(seg, child)
			cur = child
			continue
		}
		in, ok := next.(*tree.Internal)
		if !ok {
			return fmt.Errorf("%w: %q is both a secret and a path", ErrMalformedTree, seg)
		}
		cur = in
	}

	name := segs[len(segs)-1]
	var leaf *tree.Leaf
	switch existing, ok := cur.Get(name); {
	case !ok:
		leaf = tree.NewLeaf()
		cur.Set(name, leaf)
	default:
		l, isLeaf := existing.(*tree.Leaf)
		if !isLeaf {
			return fmt.Errorf("%w: %q is both a secret and a path", ErrMalformedTree, name)
		}
		leaf = l
	}
	for _, p := range pairs {
		leaf.Set(p.Key, p.Value)
	}
	return nil
}
