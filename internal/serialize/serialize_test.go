package serialize_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/brizzbuzz/vaultdump/internal/serialize"
	"github.com/brizzbuzz/vaultdump/internal/tree"
)

func f(k, v string) tree.Field { return tree.Field{Key: k, Value: v} }

// appTree is what collecting "secret/" returns for one secret at app/db.
func appTree(user, pass string) *tree.Internal {
	app := tree.NewInternal()
	app.Set("db", tree.NewLeaf(f("user", user), f("pass", pass)))
	root := tree.NewInternal()
	root.Set("app/", app)
	return root
}

func sampleTree() *tree.Internal {
	web := tree.NewInternal()
	web.Set("tls", tree.NewLeaf(f("cert", "-----BEGIN-----\nabc\n-----END-----"), f("key", "k")))
	web.Set("oauth", tree.NewLeaf(f("client_id", "id"), f("secret", "it's a secret")))

	team := tree.NewInternal()
	team.Set("web/", web)
	team.Set("empty/", tree.NewInternal())
	team.Set("motd", tree.NewLeaf(f("text", `say "hi" & $HOME; exit`)))

	root := tree.NewInternal()
	root.Set("team/", team)
	root.Set("zzz", tree.NewLeaf(f("a=b", "c=d"), f("blank", "")))
	return root
}

func TestCommandsWorkedExample(t *testing.T) {
	lines := serialize.RenderCommands(serialize.Commands(appTree("alice", "x"), "secret/"))
	assert.Equal(t, []string{`vault kv put 'secret/app/db' 'user'='alice' 'pass'='x'`}, lines)
}

func TestCommandsMasked(t *testing.T) {
	lines := serialize.RenderCommands(serialize.Commands(appTree("<hidden>", "<hidden>"), "secret"))
	assert.Equal(t, []string{`vault kv put 'secret/app/db' 'user'='<hidden>' 'pass'='<hidden>'`}, lines)
}

func TestCommandsRootDump(t *testing.T) {
	root := tree.NewInternal()
	root.Set("secret/", appTree("alice", "x"))

	lines := serialize.RenderCommands(serialize.Commands(root, ""))
	assert.Equal(t, []string{`vault kv put '/secret/app/db' 'user'='alice' 'pass'='x'`}, lines)
}

func TestCommandsRootLeaf(t *testing.T) {
	leaf := tree.NewLeaf(f("user", "alice"))

	lines := serialize.Commands(leaf, "secret/app/db/")
	require.Len(t, lines, 1)
	assert.Equal(t, "secret/app/db", lines[0].Target)
}

func TestCommandsGrouping(t *testing.T) {
	root := sampleTree()
	lines := serialize.Commands(root, "kv/")
	entries := tree.Flatten(root)

	runs := 0
	for i, e := range entries {
		if i == 0 || e.Path() != entries[i-1].Path() {
			runs++
		}
	}
	assert.Equal(t, runs, len(lines))

	var targets []string
	var pairs []tree.Field
	for _, l := range lines {
		targets = append(targets, l.Target)
		pairs = append(pairs, l.Pairs...)
	}
	assert.Equal(t, []string{"kv/team/web/tls", "kv/team/web/oauth", "kv/team/motd", "kv/zzz"}, targets)

	require.Len(t, pairs, len(entries))
	for i, e := range entries {
		assert.Equal(t, f(e.Key, e.Value), pairs[i])
	}
}

func TestCommandsEmptyTree(t *testing.T) {
	assert.Empty(t, serialize.Commands(tree.NewInternal(), "secret/"))

	nested := tree.NewInternal()
	nested.Set("app/", tree.NewInternal())
	assert.Empty(t, serialize.Commands(nested, "secret/"))
}

func TestQuoteEvaluatesBack(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"'",
		"''",
		"it's",
		"'leading and trailing'",
		`mixed "double" and 'single'`,
		"multi\nline 'value'",
		"$(rm -rf /) `id` ${HOME} \\ ; | &",
	}
	for _, in := range inputs {
		file, err := syntax.NewParser().Parse(strings.NewReader("echo '"+serialize.Quote(in)+"'"), "")
		require.NoError(t, err, "%q", in)
		require.Len(t, file.Stmts, 1)
		call := file.Stmts[0].Cmd.(*syntax.CallExpr)
		require.Len(t, call.Args, 2, "%q split into several words", in)
		got, err := expand.Literal(nil, call.Args[1])
		require.NoError(t, err, "%q", in)
		assert.Equal(t, in, got)
	}
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "/", serialize.NormalizePrefix(""))
	assert.Equal(t, "secret/", serialize.NormalizePrefix("secret"))
	assert.Equal(t, "secret/", serialize.NormalizePrefix("secret/"))
}

func TestJSON(t *testing.T) {
	data, err := serialize.JSON(appTree("alice", "<hidden>"), serialize.DefaultIndent)
	require.NoError(t, err)
	assert.Equal(t, `{
  "app/": {
    "db": {
      "user": "alice",
      "pass": "<hidden>"
    }
  }
}`, string(data))

	compact, err := serialize.JSON(appTree("alice", "x"), 0)
	require.NoError(t, err)
	assert.Equal(t, `{"app/":{"db":{"user":"alice","pass":"x"}}}`, string(compact))

	empty, err := serialize.JSON(tree.NewInternal(), serialize.DefaultIndent)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

func TestJSONEmptySubtree(t *testing.T) {
	root := tree.NewInternal()
	root.Set("app/", tree.NewInternal())

	data, err := serialize.JSON(root, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"app/":{}}`, string(data))
}

func TestDocumentRoundTrip(t *testing.T) {
	trees := map[string]tree.Node{
		"sample":    sampleTree(),
		"worked":    appTree("alice", "x"),
		"root leaf": tree.NewLeaf(f("user", "alice"), f("n", "42"), f("flag", "true")),
		"empty":     tree.NewInternal(),
	}
	for name, root := range trees {
		t.Run(name+"/json", func(t *testing.T) {
			data, err := serialize.JSON(root, 4)
			require.NoError(t, err)
			back, err := serialize.LoadDocument(data)
			require.NoError(t, err)
			assert.True(t, tree.Equal(root, back), "json:\n%s", data)
			assert.Equal(t, tree.Flatten(root), tree.Flatten(back))
		})
		t.Run(name+"/yaml", func(t *testing.T) {
			data, err := serialize.YAML(root)
			require.NoError(t, err)
			back, err := serialize.LoadDocument(data)
			require.NoError(t, err)
			assert.True(t, tree.Equal(root, back), "yaml:\n%s", data)
			assert.Equal(t, tree.Flatten(root), tree.Flatten(back))
		})
	}
}

func TestLoadDocumentNull(t *testing.T) {
	got, err := serialize.LoadDocument([]byte(`{"db": {"user": null, "pass": "x"}}`))
	require.NoError(t, err)

	in := got.(*tree.Internal)
	db, ok := in.Get("db")
	require.True(t, ok)
	assert.Equal(t, []tree.Field{f("user", ""), f("pass", "x")}, db.(*tree.Leaf).Fields)
}

func TestLoadDocumentMalformed(t *testing.T) {
	docs := map[string]string{
		"mixed":     `{"app/": {"db": {"user": "a"}, "loose": "b"}}`,
		"sequence":  `{"app/": ["a", "b"]}`,
		"scalar":    `"just a string"`,
		"top array": `[1, 2]`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := serialize.LoadDocument([]byte(doc))
			assert.True(t, errors.Is(err, serialize.ErrMalformedTree), "got %v", err)
		})
	}

	_, err := serialize.LoadDocument([]byte("{not json"))
	assert.Error(t, err)
}

func TestParseCommandsRoundTrip(t *testing.T) {
	root := sampleTree()
	script := strings.Join(serialize.RenderCommands(serialize.Commands(root, "kv/")), "\n")

	back, err := serialize.ParseCommands(strings.NewReader(script), "dump.sh", "kv")
	require.NoError(t, err)

	// empty containers produce no commands
	want := tree.NewInternal()
	for _, c := range root.Children() {
		want.Set(c.Key, c.Node)
	}
	team, _ := want.Get("team/")
	trimmed := tree.NewInternal()
	for _, c := range team.(*tree.Internal).Children() {
		if !tree.IsEmpty(c.Node) {
			trimmed.Set(c.Key, c.Node)
		}
	}
	want.Set("team/", trimmed)

	assert.True(t, tree.Equal(want, back))
	assert.Equal(t, tree.Flatten(root), tree.Flatten(back))
}

func TestParseCommandsRootLeaf(t *testing.T) {
	leaf := tree.NewLeaf(f("user", "alice"), f("quote", "it's"))
	script := strings.Join(serialize.RenderCommands(serialize.Commands(leaf, "secret/app/db")), "\n")

	back, err := serialize.ParseCommands(strings.NewReader(script), "db.sh", "secret/app/db")
	require.NoError(t, err)
	assert.True(t, tree.Equal(leaf, back))
}

func TestParseCommandsMergesRepeatedTargets(t *testing.T) {
	script := `
vault kv put 'secret/app/db' 'user'='alice'
vault kv put secret/app/db pass=x user=bob
`
	back, err := serialize.ParseCommands(strings.NewReader(script), "in.sh", "secret/")
	require.NoError(t, err)

	want := appTree("bob", "x")
	assert.True(t, tree.Equal(want, back))
}

func TestParseCommandsRejects(t *testing.T) {
	scripts := map[string]string{
		"other command":   `echo 'secret/app/db' 'a'='b'`,
		"too short":       `vault kv put`,
		"no pair":         `vault kv put 'secret/app/db' 'lonely'`,
		"outside prefix":  `vault kv put 'other/app/db' 'a'='b'`,
		"path then leaf":  "vault kv put 'secret/app/db' 'a'='b'\nvault kv put 'secret/app/' 'a'='b'",
		"pipeline":        `vault kv put 'secret/app/db' 'a'='b' | tee x`,
		"leaf and prefix": "vault kv put 'secret' 'a'='b'\nvault kv put 'secret/db' 'a'='b'",
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			_, err := serialize.ParseCommands(strings.NewReader(script), "in.sh", "secret/")
			assert.ErrorIs(t, err, serialize.ErrMalformedTree)
		})
	}

	_, err := serialize.ParseCommands(strings.NewReader(`vault kv put 'unterminated`), "in.sh", "secret/")
	assert.Error(t, err)
}

func TestParseCommandsRejectsExpansions(t *testing.T) {
	scripts := []string{
		`vault kv put 'secret/db' "a"="$HOME"`,
		`vault kv put 'secret/db' 'a'=$(id)`,
		"vault kv put secret/$MOUNT 'a'='b'",
	}
	for _, script := range scripts {
		_, err := serialize.ParseCommands(strings.NewReader(script), "in.sh", "secret/")
		assert.ErrorIs(t, err, serialize.ErrMalformedTree, script)
	}

	back, err := serialize.ParseCommands(strings.NewReader(`vault kv put 'secret/db' "a"="lit\"eral"`), "in.sh", "secret/")
	require.NoError(t, err)
	db, _ := back.(*tree.Internal).Get("db")
	assert.Equal(t, []tree.Field{f("a", `lit"eral`)}, db.(*tree.Leaf).Fields)
}
