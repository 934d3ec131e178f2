// Package secretstest provides an in-memory secrets.Backend for tests.
package secretstest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/brizzbuzz/vaultdump/internal/secrets"
	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// Backend is a secrets.Backend backed by maps. Listings are derived from Put
// calls and keep insertion order, like a real backend keeps its own order.
// Storage is keyed by mount and path separately, so a path is only found
// under the mount it was stored in.
type Backend struct {
	mu       sync.Mutex
	engines  []secrets.Engine
	lists    map[location][]string
	secrets  map[location][]tree.Field
	failures map[string]error

	calls    []string
	inflight int
	maxIn    int
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		lists:    make(map[location][]string),
		secrets:  make(map[location][]tree.Field),
		failures: make(map[string]error),
	}
}

// Mount registers an engine. An empty version leaves the option out.
func (b *Backend) Mount(name, engineType, version string) *Backend {
	opts := map[string]string{}
	if version != "" {
		opts["version"] = version
	}
	b.engines = append(b.engines, secrets.Engine{Name: name, Type: engineType, Options: opts})
	return b
}

type location struct {
	mount string
	path  string
}

// Put stores a secret at a full path ("mount/a/b/name") and registers every
// intermediate listing. The mount is the longest registered mount the path
// starts with, or else its first segment.
func (b *Backend) Put(path string, fields ...tree.Field) *Backend {
	mount, remainder := b.resolve(path)
	parts := strings.Split(remainder, "/")

	dir := ""
	for i, part := range parts {
		key := part
		if i < len(parts)-1 {
			key += "/"
		}
		b.addListing(location{mount, dir}, key)
		dir += key
	}
	b.secrets[location{mount, remainder}] = fields
	return b
}

func (b *Backend) resolve(path string) (mount, remainder string) {
	path = strings.TrimLeft(path, "/")
	for _, e := range b.engines {
		if strings.HasPrefix(path, e.Name) && len(e.Name) > len(mount)+1 {
			mount, remainder = strings.TrimSuffix(e.Name, "/"), strings.TrimPrefix(path, e.Name)
		}
	}
	if mount == "" {
		return secrets.SplitPath(path)
	}
	return mount, remainder
}

// Listing registers listing entries without storing secrets behind them,
// which is how destroyed secret versions look.
func (b *Backend) Listing(mount, path string, keys ...string) *Backend {
	for _, k := range keys {
		b.addListing(location{mount, path}, k)
	}
	return b
}

// Fail makes the given operation ("mounts", "list" or "read") on a full path
// return err.
func (b *Backend) Fail(op, path string, err error) *Backend {
	b.failures[op+":"+path] = err
	return b
}

func (b *Backend) addListing(dir location, key string) {
	for _, existing := range b.lists[dir] {
		if existing == key {
			return
		}
	}
	b.lists[dir] = append(b.lists[dir], key)
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) ListMounts(ctx context.Context) ([]secrets.Engine, error) {
	done := b.enter("mounts:/")
	defer done()

	if err := b.failure("mounts:/"); err != nil {
		return nil, err
	}
	engines := append([]secrets.Engine(nil), b.engines...)
	sort.Slice(engines, func(i, j int) bool { return engines[i].Name < engines[j].Name })
	return engines, nil
}

func (b *Backend) List(ctx context.Context, mount, path string) ([]string, error) {
	full := mount + "/" + path
	done := b.enter("list:" + full)
	defer done()

	if err := b.failure("list:" + full); err != nil {
		return nil, err
	}
	keys, ok := b.lists[location{mount, path}]
	if !ok {
		return nil, secrets.ErrNotFound
	}
	return append([]string(nil), keys...), nil
}

func (b *Backend) Read(ctx context.Context, mount, path string) ([]tree.Field, error) {
	full := mount + "/" + path
	done := b.enter("read:" + full)
	defer done()

	if err := b.failure("read:" + full); err != nil {
		return nil, err
	}
	fields, ok := b.secrets[location{mount, path}]
	if !ok {
		return nil, secrets.ErrNotFound
	}
	return append([]tree.Field(nil), fields...), nil
}

// Calls returns every operation performed so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (b *Backend) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxIn
}

func (b *Backend) failure(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[key]
}

func (b *Backend) enter(call string) func() {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.inflight++
	if b.inflight > b.maxIn {
		b.maxIn = b.inflight
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}
}
