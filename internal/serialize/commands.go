// Package serialize renders collected trees as nested documents or as replay
// command lines, and reads both forms back.
package serialize

import (
	"strings"

	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// Verb is the command every replay line starts with.
const Verb = "vault kv put"

// CommandLine writes the fields of one secret address.
type CommandLine struct {
	Target string
	Pairs  []tree.Field
}

// String renders the line with every token single-quoted.
func (c CommandLine) String() string {
	var b strings.Builder
	b.WriteString(Verb)
	b.WriteString(" '")
	b.WriteString(Quote(c.Target))
	b.WriteByte('\'')
	for _, p := range c.Pairs {
		b.WriteString(" '")
		b.WriteString(Quote(p.Key))
		b.WriteString("'='")
		b.WriteString(Quote(p.Value))
		b.WriteByte('\'')
	}
	return b.String()
}

// Quote escapes s for embedding between single quotes in a POSIX shell: each
// ' closes the quoted run, emits a double-quoted ' and reopens.
func Quote(s string) string {
	return strings.ReplaceAll(s, "'", `'"'"'`)
}

// NormalizePrefix makes sure prefix ends in "/".
func NormalizePrefix(prefix string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// Commands groups the flattened tree into one line per secret address.
// Consecutive entries sharing a path are merged, and lines come out in
// flatten order.
func Commands(root tree.Node, prefix string) []CommandLine {
	prefix = NormalizePrefix(prefix)

	var lines []CommandLine
	last := ""
	for i, e := range tree.Flatten(root) {
		path := e.Path()
		if i == 0 || path != last {
			lines = append(lines, CommandLine{Target: target(prefix, path)})
			last = path
		}
		cur := &lines[len(lines)-1]
		cur.Pairs = append(cur.Pairs, tree.Field{Key: e.Key, Value: e.Value})
	}
	return lines
}

// A secret dumped on its own has no path below the prefix; it is written back
// to the prefix itself.
func target(prefix, path string) string {
	if path == "" {
		return strings.TrimSuffix(prefix, "/")
	}
	return prefix + path
}

// RenderCommands renders every line.
func RenderCommands(lines []CommandLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return out
}
