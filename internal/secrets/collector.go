package secrets

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// MaskedValue replaces every secret value when masking is enabled.
const MaskedValue = "<hidden>"

// RootPath selects every eligible mount of the backend.
const RootPath = "/"

// Collector walks a backend and builds a tree of everything reachable below a
// starting path.
type Collector struct {
	backend     Backend
	mask        bool
	logger      *log.Logger
	concurrency int
	sem         *semaphore.Weighted
}

// Option configures a Collector.
type Option func(*Collector)

// WithMask replaces every collected value with MaskedValue.
func WithMask(mask bool) Option {
	return func(c *Collector) { c.mask = mask }
}

// WithLogger sets the logger used for traversal diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConcurrency bounds the number of backend calls in flight. Values below
// two keep the traversal strictly sequential.
func WithConcurrency(n int) Option {
	return func(c *Collector) { c.concurrency = n }
}

func NewCollector(backend Backend, opts ...Option) *Collector {
	c := &Collector{
		backend:     backend,
		logger:      log.New(io.Discard),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency > 1 {
		c.sem = semaphore.NewWeighted(int64(c.concurrency))
	}
	return c
}

// Collect returns the tree below path. "/" walks every eligible KV v2 mount;
// anything else starts at a mount, a sub-path or a single secret.
//
// Paths that do not exist yield an empty container. Any other backend error
// aborts the walk and is returned unmodified.
func (c *Collector) Collect(ctx context.Context, path string) (tree.Node, error) {
	if path == RootPath || path == "" {
		return c.collectRoot(ctx)
	}
	mount, remainder := SplitPath(path)
	return c.collect(ctx, location{mount: mount, remainder: remainder})
}

func (c *Collector) collectRoot(ctx context.Context) (tree.Node, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	engines, err := c.backend.ListMounts(ctx)
	release()
	if err != nil {
		return nil, err
	}

	var names []string
	var targets []location
	for _, e := range engines {
		if !e.Eligible() {
			c.logger.Debug("skipping mount", "mount", e.Name, "type", e.Type, "version", e.Version())
			continue
		}
		names = append(names, e.Name)
		// mount points may themselves contain "/"
		targets = append(targets, location{mount: strings.Trim(e.Name, "/")})
	}

	children, err := c.collectAll(ctx, targets)
	if err != nil {
		return nil, err
	}

	root := tree.NewInternal()
	for i, name := range names {
		root.Set(name, children[i])
	}
	return root, nil
}

// location addresses a path inside a resolved mount. Once the mount is known
// it is carried down the walk and never split again.
type location struct {
	mount     string
	remainder string
}

func (c *Collector) collect(ctx context.Context, at location) (tree.Node, error) {
	if IsContainer(at.remainder) {
		return c.collectContainer(ctx, at.mount, at.remainder)
	}
	return c.collectSecret(ctx, at.mount, at.remainder)
}

func (c *Collector) collectContainer(ctx context.Context, mount, remainder string) (tree.Node, error) {
	c.logger.Debug("listing", "backend", c.backend.Name(), "mount", mount, "path", remainder)

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := c.backend.List(ctx, mount, remainder)
	release()
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("empty path", "mount", mount, "path", remainder)
		return tree.NewInternal(), nil
	}
	if err != nil {
		return nil, err
	}

	targets := make([]location, len(keys))
	for i, key := range keys {
		targets[i] = location{mount: mount, remainder: remainder + key}
	}
	children, err := c.collectAll(ctx, targets)
	if err != nil {
		return nil, err
	}

	node := tree.NewInternal()
	for i, key := range keys {
		node.Set(key, children[i])
	}
	return node, nil
}

func (c *Collector) collectSecret(ctx context.Context, mount, remainder string) (tree.Node, error) {
	c.logger.Debug("reading", "backend", c.backend.Name(), "mount", mount, "path", remainder)

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := c.backend.Read(ctx, mount, remainder)
	release()
	if errors.Is(err, ErrNotFound) {
		// destroyed or deleted versions list but cannot be read
		c.logger.Debug("secret not readable", "mount", mount, "path", remainder)
		return tree.NewInternal(), nil
	}
	if err != nil {
		return nil, err
	}

	leaf := tree.NewLeaf(fields...)
	if c.mask {
		leaf = leaf.Mask(MaskedValue)
	}
	return leaf, nil
}

// collectAll collects every location and returns the subtrees in the same
// order.
func (c *Collector) collectAll(ctx context.Context, targets []location) ([]tree.Node, error) {
	nodes := make([]tree.Node, len(targets))

	if c.sem == nil {
		for i, at := range targets {
			n, err := c.collect(ctx, at)
			if err != nil {
				return nil, err
			}
			nodes[i] = n
		}
		return nodes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, at := range targets {
		g.Go(func() error {
			n, err := c.collect(gctx, at)
			if err != nil {
				return err
			}
			nodes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (c *Collector) acquire(ctx context.Context) (func(), error) {
	if c.sem == nil {
		return func() {}, nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { c.sem.Release(1) }, nil
}
