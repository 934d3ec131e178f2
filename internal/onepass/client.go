// Package onepass exposes 1Password vaults as a secrets backend. Each vault is
// presented as a KV mount and each item as a secret whose fields are the item
// fields.
package onepass

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/1password/onepassword-sdk-go"

	"github.com/brizzbuzz/vaultdump/internal/secrets"
	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// TokenEnv holds a service account token and wins over a token file.
const TokenEnv = "OP_SERVICE_ACCOUNT_TOKEN"

const integrationName = "vaultdump"

type vaultLister interface {
	List(ctx context.Context) ([]onepassword.VaultOverview, error)
}

type itemStore interface {
	List(ctx context.Context, vaultID string, filters ...onepassword.ItemListFilter) ([]onepassword.ItemOverview, error)
	Get(ctx context.Context, vaultID, itemID string) (onepassword.Item, error)
}

// Client implements secrets.Backend on top of the 1Password SDK.
type Client struct {
	vaults vaultLister
	items  itemStore

	mu         sync.Mutex
	vaultIDs   map[string]string
	itemIDs    map[string]map[string]string
	itemOrders map[string][]string
}

var _ secrets.Backend = (*Client)(nil)

func NewClient(ctx context.Context, tokenFile, version string) (*Client, error) {
	token, err := GetToken(tokenFile)
	if err != nil {
		return nil, err
	}

	client, err := onepassword.NewClient(ctx,
		onepassword.WithServiceAccountToken(token),
		onepassword.WithIntegrationInfo(integrationName, version),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", secrets.ErrUnauthenticated, err)
	}

	return newClient(client.Vaults(), client.Items()), nil
}

func newClient(vaults vaultLister, items itemStore) *Client {
	return &Client{vaults: vaults, items: items}
}

func (c *Client) Name() string { return "onepassword" }

// ListMounts returns one KV v2 engine per vault, named after the vault title.
func (c *Client) ListMounts(ctx context.Context) ([]secrets.Engine, error) {
	ids, err := c.loadVaults(ctx)
	if err != nil {
		return nil, err
	}

	engines := make([]secrets.Engine, 0, len(ids))
	for title := range ids {
		engines = append(engines, secrets.Engine{
			Name:    title + "/",
			Type:    secrets.KVEngineType,
			Options: map[string]string{"version": "2"},
		})
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i].Name < engines[j].Name })
	return engines, nil
}

// List returns the item titles of a vault. Vaults have no sub-paths.
func (c *Client) List(ctx context.Context, mount, path string) ([]string, error) {
	if path != "" {
		return nil, secrets.ErrNotFound
	}
	vaultID, err := c.vaultID(ctx, mount)
	if err != nil {
		return nil, err
	}
	order, _, err := c.loadItems(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), order...), nil
}

// Read returns the fields of the item titled path. Fields without a title
// fall back to their id and repeated titles are qualified by section; the
// notes of an item become a "notes" field.
func (c *Client) Read(ctx context.Context, mount, path string) ([]tree.Field, error) {
	vaultID, err := c.vaultID(ctx, mount)
	if err != nil {
		return nil, err
	}
	_, ids, err := c.loadItems(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	itemID, ok := ids[path]
	if !ok {
		return nil, secrets.ErrNotFound
	}

	item, err := c.items.Get(ctx, vaultID, itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading item %q: %w", secrets.ErrUnavailable, path, err)
	}

	sections := make(map[string]string, len(item.Sections))
	for _, sec := range item.Sections {
		sections[sec.ID] = sec.Title
	}

	leaf := tree.NewLeaf()
	for _, f := range item.Fields {
		leaf.Set(fieldKey(leaf, sections, f), f.Value)
	}
	if item.Notes != "" {
		leaf.Set("notes", item.Notes)
	}
	return leaf.Fields, nil
}

// fieldKey names a field by its title, or its id when untitled. Titles can
// repeat across sections; later fields are then qualified as
// "<section>.<title>", or "<title>.<id>" when that is taken too.
func fieldKey(leaf *tree.Leaf, sections map[string]string, f onepassword.ItemField) string {
	key := f.Title
	if key == "" {
		key = f.ID
	}
	if _, taken := leaf.Get(key); !taken {
		return key
	}
	if f.SectionID != nil && sections[*f.SectionID] != "" {
		qualified := sections[*f.SectionID] + "." + key
		if _, taken := leaf.Get(qualified); !taken {
			return qualified
		}
	}
	return key + "." + f.ID
}

func (c *Client) vaultID(ctx context.Context, mount string) (string, error) {
	ids, err := c.loadVaults(ctx)
	if err != nil {
		return "", err
	}
	id, ok := ids[strings.TrimSuffix(mount, "/")]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return id, nil
}

func (c *Client) loadVaults(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vaultIDs != nil {
		return c.vaultIDs, nil
	}

	vaults, err := c.vaults.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing vaults: %w", secrets.ErrUnavailable, err)
	}
	ids := make(map[string]string, len(vaults))
	for _, v := range vaults {
		ids[v.Title] = v.ID
	}
	c.vaultIDs = ids
	return ids, nil
}

func (c *Client) loadItems(ctx context.Context, vaultID string) ([]string, map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ids, ok := c.itemIDs[vaultID]; ok {
		return c.itemOrders[vaultID], ids, nil
	}

	items, err := c.items.List(ctx, vaultID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: listing items: %w", secrets.ErrUnavailable, err)
	}

	ids := make(map[string]string, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		// a title ending in "/" would read as a sub-path
		title := strings.TrimSuffix(it.Title, "/")
		if _, dup := ids[title]; dup || title == "" {
			continue
		}
		ids[title] = it.ID
		order = append(order, title)
	}

	if c.itemIDs == nil {
		c.itemIDs = make(map[string]map[string]string)
		c.itemOrders = make(map[string][]string)
	}
	c.itemIDs[vaultID] = ids
	c.itemOrders[vaultID] = order
	return order, ids, nil
}

// GetToken returns the service account token from TokenEnv, or failing that
// from tokenFile.
func GetToken(tokenFile string) (string, error) {
	if token := os.Getenv(TokenEnv); token != "" {
		return strings.TrimSpace(token), nil
	}

	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return "", fmt.Errorf("no token provided: set %s or provide token file", TokenEnv)
}
