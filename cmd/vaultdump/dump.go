package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/brizzbuzz/vaultdump/internal/config"
	dumperrors "github.com/brizzbuzz/vaultdump/internal/errors"
	"github.com/brizzbuzz/vaultdump/internal/k8s"
	"github.com/brizzbuzz/vaultdump/internal/onepass"
	"github.com/brizzbuzz/vaultdump/internal/secrets"
	"github.com/brizzbuzz/vaultdump/internal/serialize"
	"github.com/brizzbuzz/vaultdump/internal/tree"
	"github.com/brizzbuzz/vaultdump/internal/types"
	"github.com/brizzbuzz/vaultdump/internal/validation"
	"github.com/brizzbuzz/vaultdump/internal/vault"
)

func newDumpCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Collect every secret below a path and print it",
		Long: `Collect every secret below --path and print the tree.

The path is "/" for every KV v2 mount, a mount such as "secret/", a
sub-path such as "secret/app/" or a single secret such as "secret/app/db".
Nothing is printed unless the whole tree was collected.`,
		Args: cobra.NoArgs,
		RunE: a.runDump,
	}

	flags := cmd.Flags()
	flags.String("path", config.DefaultPath, "path to dump")
	flags.Bool("mask", false, "replace every value with "+secrets.MaskedValue)
	flags.StringP("output", "o", string(types.OutputVault), "output format: vault, json, yaml")
	flags.Int("indent", serialize.DefaultIndent, "JSON indentation, 0 for compact output")
	flags.String("source", string(types.SourceVault), "secrets source: vault, onepassword, kubernetes")
	flags.Int("concurrency", 1, "maximum backend requests in flight")
	flags.String("token-file", "", "file holding the Vault token (default ~/.vault-token)")
	flags.Bool("tls-skip-verify", false, "skip TLS certificate verification (env VAULT_SKIP_VERIFY)")
	flags.String("kubeconfig", "", "kubeconfig for the kubernetes source (env KUBECONFIG)")
	flags.String("onepassword-token-file", "", "service account token file for the onepassword source (env "+onepass.TokenEnv+")")

	return cmd
}

func (a *app) runDump(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := a.setup(cmd)
	if err != nil {
		return err
	}
	if err := validation.NewValidator().ValidateConfig(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, err := a.newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("collecting", "backend", backend.Name(), "path", cfg.Path, "mask", cfg.Mask)
	collector := secrets.NewCollector(backend,
		secrets.WithMask(cfg.Mask),
		secrets.WithLogger(logger),
		secrets.WithConcurrency(cfg.Concurrency),
	)
	root, err := collector.Collect(ctx, cfg.Path)
	if err != nil {
		return backendError("Collecting secrets", backend.Name(), err)
	}

	return writeTree(a.stdout, root, cfg.Output, strings.TrimPrefix(cfg.Path, "/"), cfg.Indent)
}

// openBackend connects to the source named in cfg. The Vault source fails
// early when the token is missing or rejected.
func openBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) (secrets.Backend, error) {
	v := validation.NewValidator()

	switch cfg.Source {
	case types.SourceOnePassword:
		if os.Getenv(onepass.TokenEnv) == "" && cfg.OnePasswordTokenFile != "" {
			if err := v.ValidateTokenFile(cfg.OnePasswordTokenFile); err != nil {
				return nil, err
			}
			warnTokenFileMode(logger, v, cfg.OnePasswordTokenFile)
		}
		client, err := onepass.NewClient(ctx, cfg.OnePasswordTokenFile, Version)
		if err != nil {
			return nil, backendError("Connecting", "onepassword", err)
		}
		return client, nil

	case types.SourceKubernetes:
		client, err := k8s.NewClient(cfg.Kubeconfig)
		if err != nil {
			return nil, backendError("Connecting", "kubernetes", err)
		}
		return client, nil

	default:
		token, err := cfg.VaultToken()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(cfg.Token) == "" {
			warnTokenFileMode(logger, v, cfg.TokenFile)
		}

		backend, err := vault.New(vault.Config{
			Address:       cfg.Address,
			Token:         token,
			TLSSkipVerify: cfg.TLSSkipVerify,
		})
		if err != nil {
			return nil, dumperrors.ConfigError("Creating Vault client", err.Error(), err)
		}
		if err := backend.CheckAuth(ctx); err != nil {
			return nil, backendError("Authenticating", "vault", err)
		}
		logger.Debug("authenticated", "address", backend.Address())
		return backend, nil
	}
}

func warnTokenFileMode(logger *log.Logger, v *validation.Validator, path string) {
	if err := v.ValidateTokenFileMode(path); err != nil {
		logger.Warn("token file is readable by other users", "file", path)
	}
}

// backendError describes a fatal backend failure for the user.
func backendError(operation, backend string, err error) error {
	issue := err.Error()
	switch {
	case errors.Is(err, secrets.ErrUnauthenticated):
		issue = "authentication failed: the token was rejected or is missing permissions"
	case errors.Is(err, secrets.ErrUnavailable):
		issue = "connection failed: the backend is unavailable"
	case errors.Is(err, context.Canceled):
		issue = "interrupted"
	}
	return dumperrors.BackendError(operation, backend, issue, err)
}

// writeTree renders root in the requested format.
func writeTree(w io.Writer, root tree.Node, format types.OutputFormat, prefix string, indent int) error {
	var out []byte

	switch format {
	case types.OutputJSON:
		data, err := serialize.JSON(root, indent)
		if err != nil {
			return dumperrors.Wrap(err, "Rendering JSON", "serializer")
		}
		out = append(data, '\n')
	case types.OutputYAML:
		data, err := serialize.YAML(root)
		if err != nil {
			return dumperrors.Wrap(err, "Rendering YAML", "serializer")
		}
		out = data
	default:
		var b strings.Builder
		for _, line := range serialize.RenderCommands(serialize.Commands(root, prefix)) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		out = []byte(b.String())
	}

	if _, err := w.Write(out); err != nil {
		return dumperrors.Wrap(err, "Writing output", "output")
	}
	return nil
}
