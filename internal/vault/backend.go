// Package vault reads KV version 2 secrets engines from a HashiCorp Vault
// server.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/hashicorp/vault/api"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/brizzbuzz/vaultdump/internal/secrets"
	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// Config holds what is needed to talk to a server.
type Config struct {
	Address       string
	Token         string
	TLSSkipVerify bool
}

// Backend implements secrets.Backend against the Vault HTTP API.
type Backend struct {
	client *api.Client
}

var _ secrets.Backend = (*Backend)(nil)

// New creates a client for cfg. Requests are not retried.
func New(cfg Config) (*Backend, error) {
	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("reading vault environment: %w", apiCfg.Error)
	}
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	apiCfg.MaxRetries = 0
	if cfg.TLSSkipVerify {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("configuring tls: %w", err)
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *api.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Name() string { return "vault" }

// Address returns the server address in use.
func (b *Backend) Address() string { return b.client.Address() }

// CheckAuth verifies the token by looking itself up.
func (b *Backend) CheckAuth(ctx context.Context) error {
	if b.client.Token() == "" {
		return fmt.Errorf("%w: no token set", secrets.ErrUnauthenticated)
	}
	if _, err := b.client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (b *Backend) ListMounts(ctx context.Context) ([]secrets.Engine, error) {
	mounts, err := b.client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return nil, classify(err)
	}

	engines := make([]secrets.Engine, 0, len(mounts))
	for name, m := range mounts {
		if m == nil {
			continue
		}
		engines = append(engines, secrets.Engine{Name: name, Type: m.Type, Options: m.Options})
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i].Name < engines[j].Name })
	return engines, nil
}

func (b *Backend) List(ctx context.Context, mount, path string) ([]string, error) {
	secret, err := b.client.Logical().ListWithContext(ctx, mount+"/metadata/"+path)
	if err != nil {
		return nil, classify(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, secrets.ErrNotFound
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, secrets.ErrNotFound
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		s, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected key %v under %s/%s", secrets.ErrUnavailable, k, mount, path)
		}
		keys = append(keys, s)
	}
	return keys, nil
}

type kvResponse struct {
	Data struct {
		Data *orderedmap.OrderedMap[string, json.RawMessage] `json:"data"`
	} `json:"data"`
}

// Read fetches the latest version of a secret. The raw response is decoded so
// fields keep the order the server returned them in.
func (b *Backend) Read(ctx context.Context, mount, path string) ([]tree.Field, error) {
	resp, err := b.client.Logical().ReadRawWithContext(ctx, mount+"/data/"+path)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || resp.StatusCode == http.StatusNotFound {
		return nil, secrets.ErrNotFound
	}
	// raw reads hand back error statuses without an error
	if err := resp.Error(); err != nil {
		return nil, classify(err)
	}

	var body kvResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding %s/%s: %w", secrets.ErrUnavailable, mount, path, err)
	}
	if body.Data.Data == nil {
		return nil, secrets.ErrNotFound
	}

	fields := make([]tree.Field, 0, body.Data.Data.Len())
	for pair := body.Data.Data.Oldest(); pair != nil; pair = pair.Next() {
		fields = append(fields, tree.Field{Key: pair.Key, Value: fieldValue(pair.Value)})
	}
	return fields, nil
}

// fieldValue turns a JSON value into its string form. Non-string values keep
// their JSON text and null becomes empty.
func fieldValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func classify(err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return secrets.ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", secrets.ErrUnauthenticated, err)
		}
	}
	return fmt.Errorf("%w: %w", secrets.ErrUnavailable, err)
}
