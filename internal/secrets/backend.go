package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// Errors reported by backends. ErrNotFound is recoverable: the collector turns
// it into an empty subtree. The other two abort a collection.
var (
	ErrNotFound        = errors.New("path not found")
	ErrUnavailable     = errors.New("backend unavailable")
	ErrUnauthenticated = errors.New("not authenticated")
)

// KVEngineType is the engine type eligible for traversal.
const KVEngineType = "kv"

// Engine describes a mounted secrets engine.
type Engine struct {
	Name    string // mount point as listed, usually with a trailing "/"
	Type    string
	Options map[string]string
}

// Version returns the declared "version" option, or "" when absent.
func (e Engine) Version() string {
	return e.Options["version"]
}

// Eligible reports whether the engine is a KV engine at version 2. A missing
// version option counts as eligible.
func (e Engine) Eligible() bool {
	if e.Type != KVEngineType {
		return false
	}
	v, ok := e.Options["version"]
	return !ok || v == "2"
}

// Backend is the read side of a secrets store.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// ListMounts returns every mounted engine, sorted by name.
	ListMounts(ctx context.Context) ([]Engine, error)
	// List returns the keys under a container path. Sub-containers end in "/".
	List(ctx context.Context, mount, path string) ([]string, error)
	// Read returns the fields of the secret at path.
	Read(ctx context.Context, mount, path string) ([]tree.Field, error)
}

// SplitPath separates the mount point (first segment) from the remainder.
// Leading slashes are ignored.
func SplitPath(path string) (mount, remainder string) {
	path = strings.TrimLeft(path, "/")
	mount, remainder, _ = strings.Cut(path, "/")
	return mount, remainder
}

// IsContainer reports whether a remainder addresses a listable sub-path. The
// mount root (empty remainder) is always a container.
func IsContainer(remainder string) bool {
	return remainder == "" || strings.HasSuffix(remainder, "/")
}
