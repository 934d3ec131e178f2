// Package k8s exposes Kubernetes Secrets as a secrets backend: namespaces are
// KV mounts and each Secret is a secret whose fields are its data keys.
package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/brizzbuzz/vaultdump/internal/secrets"
	"github.com/brizzbuzz/vaultdump/internal/tree"
)

// Adding the following variables, so that the code can be tested
var (
	inClusterConfig      = rest.InClusterConfig
	buildConfigFromFlags = clientcmd.BuildConfigFromFlags
	newForConfig         = kubernetes.NewForConfig
)

type Client struct {
	ClientSet kubernetes.Interface
}

var _ secrets.Backend = (*Client)(nil)

// NewClient creates a new Kubernetes client. An explicit kubeconfig wins;
// otherwise the in-cluster config is tried before ~/.kube/config.
func NewClient(kubeconfig string) (*Client, error) {
	if kubeconfig != "" {
		config, err := buildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfig, err)
		}
		return NewClientWithConfig(config)
	}

	config, err := inClusterConfig()
	if err != nil {
		home, _ := os.UserHomeDir()
		config, err = buildConfigFromFlags("", filepath.Join(home, ".kube", "config"))
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
	}
	return NewClientWithConfig(config)
}

// NewClientWithConfig builds a client from an existing rest config.
func NewClientWithConfig(config *rest.Config) (*Client, error) {
	clientset, err := newForConfig(config)
	if err != nil {
		return nil, err
	}
	return &Client{ClientSet: clientset}, nil
}

func (c *Client) Name() string { return "kubernetes" }

// ListMounts returns every namespace as a KV v2 engine.
func (c *Client) ListMounts(ctx context.Context) ([]secrets.Engine, error) {
	list, err := c.ClientSet.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list namespaces", err)
	}

	engines := make([]secrets.Engine, 0, len(list.Items))
	for _, ns := range list.Items {
		engines = append(engines, secrets.Engine{
			Name:    ns.Name + "/",
			Type:    secrets.KVEngineType,
			Options: map[string]string{"version": "2"},
		})
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i].Name < engines[j].Name })
	return engines, nil
}

// List returns the Secret names of a namespace, sorted. Namespaces have no
// sub-paths.
func (c *Client) List(ctx context.Context, namespace, path string) ([]string, error) {
	if path != "" {
		return nil, secrets.ErrNotFound
	}
	list, err := c.ClientSet.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list secrets", err)
	}
	if len(list.Items) == 0 {
		return nil, secrets.ErrNotFound
	}

	names := make([]string, 0, len(list.Items))
	for _, s := range list.Items {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the data of a Secret as fields sorted by key.
func (c *Client) Read(ctx context.Context, namespace, name string) ([]tree.Field, error) {
	secret, err := c.ClientSet.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classify("get secret", err)
	}
	return secretFields(secret), nil
}

func secretFields(secret *v1.Secret) []tree.Field {
	values := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		values[k] = string(v) // convert from []byte to string
	}
	// StringData is write-only on a real API server but shows up on objects
	// that were never persisted
	for k, v := range secret.StringData {
		values[k] = v
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]tree.Field, len(keys))
	for i, k := range keys {
		fields[i] = tree.Field{Key: k, Value: values[k]}
	}
	return fields
}

func classify(op string, err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return secrets.ErrNotFound
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return fmt.Errorf("%w: failed to %s: %w", secrets.ErrUnauthenticated, op, err)
	default:
		return fmt.Errorf("%w: failed to %s: %w", secrets.ErrUnavailable, op, err)
	}
}
