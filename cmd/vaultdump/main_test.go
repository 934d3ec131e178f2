package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brizzbuzz/vaultdump/internal/config"
	dumperrors "github.com/brizzbuzz/vaultdump/internal/errors"
	"github.com/brizzbuzz/vaultdump/internal/secrets"
	"github.com/brizzbuzz/vaultdump/internal/secrets/secretstest"
	"github.com/brizzbuzz/vaultdump/internal/tree"
	"github.com/brizzbuzz/vaultdump/internal/types"
)

type testApp struct {
	*app
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	opened  int
	backend secrets.Backend
}

// newTestApp isolates the command from the host environment and serves
// backend to the dump command.
func newTestApp(t *testing.T, backend secrets.Backend, stdin string) *testApp {
	t.Helper()
	for _, name := range []string{"VAULT_ADDR", "VAULT_TOKEN", "VAULT_SKIP_VERIFY", "LOG_LEVEL", "KUBECONFIG"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	ta := &testApp{
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		backend: backend,
	}
	ta.app = &app{
		stdin:  strings.NewReader(stdin),
		stdout: ta.stdout,
		stderr: ta.stderr,
		newBackend: func(ctx context.Context, cfg *config.Config, logger *log.Logger) (secrets.Backend, error) {
			ta.opened++
			return ta.backend, nil
		},
	}
	return ta
}

func (ta *testApp) run(args ...string) error {
	cmd := newRootCommand(ta.app)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func appBackend() *secretstest.Backend {
	return secretstest.New().
		Mount("secret/", "kv", "2").
		Mount("sys/", "system", "").
		Put("secret/app/db",
			tree.Field{Key: "user", Value: "alice"},
			tree.Field{Key: "pass", Value: "x"},
		)
}

func TestDumpCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "mount",
			args: []string{"dump", "--path", "secret/"},
			want: "vault kv put 'secret/app/db' 'user'='alice' 'pass'='x'\n",
		},
		{
			name: "leading slash",
			args: []string{"dump", "--path", "/secret/app/"},
			want: "vault kv put 'secret/app/db' 'user'='alice' 'pass'='x'\n",
		},
		{
			name: "root",
			args: []string{"dump"},
			want: "vault kv put '/secret/app/db' 'user'='alice' 'pass'='x'\n",
		},
		{
			name: "single secret",
			args: []string{"dump", "--path", "secret/app/db"},
			want: "vault kv put 'secret/app/db' 'user'='alice' 'pass'='x'\n",
		},
		{
			name: "masked",
			args: []string{"dump", "--path", "secret/", "--mask"},
			want: "vault kv put 'secret/app/db' 'user'='<hidden>' 'pass'='<hidden>'\n",
		},
		{
			name: "missing path",
			args: []string{"dump", "--path", "secret/nothing/"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t, appBackend(), "")
			require.NoError(t, ta.run(tt.args...))
			assert.Equal(t, tt.want, ta.stdout.String())
			assert.Equal(t, 1, ta.opened)
		})
	}
}

func TestDumpDocuments(t *testing.T) {
	ta := newTestApp(t, appBackend(), "")
	require.NoError(t, ta.run("dump", "--path", "secret/", "--mask", "-o", "json", "--indent", "0"))
	assert.Equal(t, `{"app/":{"db":{"user":"<hidden>","pass":"<hidden>"}}}`+"\n", ta.stdout.String())

	ta = newTestApp(t, appBackend(), "")
	require.NoError(t, ta.run("dump", "--path", "secret/app/", "--output", "yaml"))
	assert.Equal(t, "db:\n    user: alice\n    pass: x\n", ta.stdout.String())
}

func TestDumpConcurrencyKeepsOrder(t *testing.T) {
	backend := secretstest.New().Mount("secret/", "kv", "2")
	var want strings.Builder
	for i := range 20 {
		name := fmt.Sprintf("s%02d", 19-i)
		backend.Put("secret/"+name, tree.Field{Key: "k", Value: name})
		fmt.Fprintf(&want, "vault kv put 'secret/%s' 'k'='%s'\n", name, name)
	}

	ta := newTestApp(t, backend, "")
	require.NoError(t, ta.run("dump", "--path", "secret/", "--concurrency", "8"))
	assert.Equal(t, want.String(), ta.stdout.String())
}

func TestDumpBackendFailure(t *testing.T) {
	backend := appBackend().Fail("read", "secret/app/db", fmt.Errorf("permission denied: %w", secrets.ErrUnauthenticated))

	ta := newTestApp(t, backend, "")
	err := ta.run("dump", "--path", "secret/")
	require.Error(t, err)

	var dumpErr *dumperrors.DumpError
	require.ErrorAs(t, err, &dumpErr)
	assert.Equal(t, "memory backend", dumpErr.Component)
	assert.Contains(t, dumpErr.Issue, "authentication failed")
	assert.NotEmpty(t, dumpErr.Suggestions)
	assert.ErrorIs(t, err, secrets.ErrUnauthenticated)
	assert.Empty(t, ta.stdout.String(), "no partial output")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteTreeWrapsWriteFailure(t *testing.T) {
	root := tree.NewInternal()
	root.Set("db", tree.NewLeaf(tree.Field{Key: "user", Value: "alice"}))

	for _, format := range types.OutputFormats {
		t.Run(string(format), func(t *testing.T) {
			err := writeTree(failingWriter{}, root, format, "secret/", 2)
			require.Error(t, err)

			var dumpErr *dumperrors.DumpError
			require.ErrorAs(t, err, &dumpErr)
			assert.Equal(t, "Writing output", dumpErr.Operation)
			assert.Equal(t, "broken pipe", dumpErr.Issue)
		})
	}
}

func TestDumpLogLevel(t *testing.T) {
	t.Run("debug flag", func(t *testing.T) {
		ta := newTestApp(t, appBackend(), "")
		require.NoError(t, ta.run("dump", "--path", "secret/", "--debug"))
		assert.Contains(t, ta.stderr.String(), "collecting")
	})

	t.Run("LOG_LEVEL wins over debug flag", func(t *testing.T) {
		ta := newTestApp(t, appBackend(), "")
		t.Setenv("LOG_LEVEL", "warn")
		require.NoError(t, ta.run("dump", "--path", "secret/", "--debug"))
		assert.NotContains(t, ta.stderr.String(), "collecting")
	})

	t.Run("log-level flag wins over debug flag", func(t *testing.T) {
		ta := newTestApp(t, appBackend(), "")
		require.NoError(t, ta.run("dump", "--path", "secret/", "--debug", "--log-level", "error"))
		assert.NotContains(t, ta.stderr.String(), "collecting")
	})
}

func TestDumpRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero concurrency", []string{"dump", "--concurrency", "0"}, "Concurrency"},
		{"traversal", []string{"dump", "--path", "secret/../sys/"}, "traversal"},
		{"unknown output", []string{"dump", "-o", "xml"}, "output"},
		{"unknown source", []string{"dump", "--source", "consul"}, "Unknown secrets source"},
		{"bad address", []string{"dump", "--address", "vault:8200"}, "http or https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t, appBackend(), "")
			err := ta.run(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, ta.opened, "backend must not be opened")
		})
	}
}

func TestOpenBackendRequiresVaultToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TokenFile = filepath.Join(t.TempDir(), "missing")

	_, err := openBackend(context.Background(), cfg, log.New(&bytes.Buffer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vaultdump token set")
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	jsonFile := filepath.Join(dir, "dump.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"app/":{"db":{"user":"alice","pass":"it's"}}}`), 0600))
	scriptFile := filepath.Join(dir, "dump.sh")
	require.NoError(t, os.WriteFile(scriptFile, []byte(
		"vault kv put 'secret/app/db' 'user'='alice' 'pass'='it'\"'\"'s'\n"), 0600))

	t.Run("json to commands", func(t *testing.T) {
		ta := newTestApp(t, nil, "")
		require.NoError(t, ta.run("convert", jsonFile, "-o", "vault", "--prefix", "secret/"))
		assert.Equal(t, "vault kv put 'secret/app/db' 'user'='alice' 'pass'='it'\"'\"'s'\n", ta.stdout.String())
	})

	t.Run("commands to json", func(t *testing.T) {
		ta := newTestApp(t, nil, "")
		require.NoError(t, ta.run("convert", scriptFile, "--prefix", "secret/", "--indent", "0"))
		assert.Equal(t, `{"app/":{"db":{"user":"alice","pass":"it's"}}}`+"\n", ta.stdout.String())
	})

	t.Run("stdin with explicit format", func(t *testing.T) {
		ta := newTestApp(t, nil, "app/:\n  db:\n    user: alice\n")
		require.NoError(t, ta.run("convert", "-", "--from", "yaml", "-o", "vault", "--prefix", "kv"))
		assert.Equal(t, "vault kv put 'kv/app/db' 'user'='alice'\n", ta.stdout.String())
	})

	t.Run("target outside prefix", func(t *testing.T) {
		ta := newTestApp(t, nil, "")
		err := ta.run("convert", scriptFile, "--prefix", "other/")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--prefix")
		assert.Empty(t, ta.stdout.String())
	})

	t.Run("missing file", func(t *testing.T) {
		ta := newTestApp(t, nil, "")
		require.Error(t, ta.run("convert", filepath.Join(dir, "missing.json")))
	})
}

func TestInputFormat(t *testing.T) {
	tests := []struct {
		file    string
		from    string
		want    types.OutputFormat
		wantErr bool
	}{
		{"dump.json", "", types.OutputJSON, false},
		{"dump.YAML", "", types.OutputYAML, false},
		{"dump.yml", "", types.OutputYAML, false},
		{"restore.sh", "", types.OutputVault, false},
		{"dump.txt", "vault", types.OutputVault, false},
		{"dump.json", "yaml", types.OutputYAML, false},
		{"dump.txt", "", "", true},
		{"-", "", "", true},
		{"dump.json", "toml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.file+"/"+tt.from, func(t *testing.T) {
			got, err := inputFormat(tt.file, tt.from)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")

	ta := newTestApp(t, nil, "  s.new-token \n")
	require.NoError(t, ta.run("token", "set", "--token-file", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s.new-token", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Contains(t, ta.stderr.String(), "Token successfully stored")

	t.Run("tightens existing file", func(t *testing.T) {
		require.NoError(t, os.Chmod(path, 0644))
		ta := newTestApp(t, nil, "s.other\n")
		require.NoError(t, ta.run("token", "set", "--token-file", path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("empty input", func(t *testing.T) {
		ta := newTestApp(t, nil, "\n")
		err := ta.run("token", "set", "--token-file", filepath.Join(t.TempDir(), "token"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Token cannot be empty")
	})
}

func TestGetVersionString(t *testing.T) {
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	})

	Version, Commit, BuildDate = "dev", "unknown", "unknown"
	assert.Equal(t, "dev (built from source)", getVersionString())

	Version, Commit, BuildDate = "v1.2.3", "abc1234", "2026-10-18T10:00:00Z"
	assert.Equal(t, "v1.2.3 (commit: abc1234, built: 2026-10-18T10:00:00Z)", getVersionString())
}
