package main

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/brizzbuzz/vaultdump/internal/config"
	"github.com/brizzbuzz/vaultdump/internal/logging"
	"github.com/brizzbuzz/vaultdump/internal/secrets"
)

// backendFactory opens the backend selected by cfg.
type backendFactory func(ctx context.Context, cfg *config.Config, logger *log.Logger) (secrets.Backend, error)

// app carries the streams and global flags shared by every command.
type app struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	newBackend backendFactory

	configFile string
	debug      bool
	showDates  bool
}

func newApp() *app {
	return &app{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		newBackend: openBackend,
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Dump a Vault KV v2 tree as JSON or replayable vault commands",
		Long: titleStyle.Render("vaultdump") + subtitleStyle.Render(" - dump Vault KV v2 secrets") + `

vaultdump walks every secret below a path, keeps the server's ordering,
and prints the result either as a nested JSON/YAML document or as one
'vault kv put' command per secret that recreates the tree elsewhere.

1Password vaults and Kubernetes namespaces can be dumped the same way,
which turns them into Vault replay commands.

` + subtitleStyle.Render("Examples:") + `
  vaultdump dump                          Dump every KV v2 mount
  vaultdump dump --path secret/app/       Dump one sub-tree
  vaultdump dump --mask --output json     Show the structure without values
  vaultdump convert backup.json           Turn a JSON dump into commands
  vaultdump token set                     Store a token for later runs`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is $HOME/.config/vaultdump/config.cue)")
	flags.String("address", config.DefaultAddress, "Vault server address (env VAULT_ADDR)")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&a.showDates, "show-log-dates", false, "prefix log lines with a timestamp")

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(newDumpCommand(a))
	root.AddCommand(newConvertCommand(a))
	root.AddCommand(newTokenCommand(a))

	return root
}

// setup resolves the configuration for cmd and builds the logger.
func (a *app) setup(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, used, err := config.Load(cmd.Context(), config.LoadOptions{
		ConfigFilePath: a.configFile,
		Flags:          cmd.Flags(),
	})
	if err != nil {
		return nil, nil, err
	}

	// an explicitly chosen level wins over --debug
	level := ""
	if cmd.Flags().Changed("log-level") || os.Getenv("LOG_LEVEL") != "" || cfg.LogLevel != config.DefaultLogLevel {
		level = cfg.LogLevel
	}
	logger := logging.New(a.stderr, logging.Options{
		Level:     level,
		Debug:     a.debug,
		ShowDates: a.showDates,
	})
	if used != "" {
		logger.Debug("loaded config", "file", used)
	}
	return cfg, logger, nil
}
