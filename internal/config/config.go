package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/brizzbuzz/vaultdump/internal/errors"
	"github.com/brizzbuzz/vaultdump/internal/types"
)

const (
	// AppName is the application name.
	AppName = "vaultdump"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"

	DefaultAddress  = "https://127.0.0.1:8200"
	DefaultPath     = "/"
	DefaultLogLevel = "info"
)

//go:embed config_schema.cue
var configSchema string

// Config holds every setting of a dump.
type Config struct {
	Address              string             `mapstructure:"address"`
	Token                string             `mapstructure:"token"`
	TokenFile            string             `mapstructure:"token_file"`
	TLSSkipVerify        bool               `mapstructure:"tls_skip_verify"`
	LogLevel             string             `mapstructure:"log_level"`
	Source               types.Source       `mapstructure:"source"`
	Path                 string             `mapstructure:"path"`
	Mask                 bool               `mapstructure:"mask"`
	Output               types.OutputFormat `mapstructure:"output"`
	Indent               int                `mapstructure:"indent"`
	Concurrency          int                `mapstructure:"concurrency"`
	Kubeconfig           string             `mapstructure:"kubeconfig"`
	OnePasswordTokenFile string             `mapstructure:"onepassword_token_file"`
}

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() *Config {
	tokenFile := ".vault-token"
	if home, err := os.UserHomeDir(); err == nil {
		tokenFile = filepath.Join(home, tokenFile)
	}
	return &Config{
		Address:     DefaultAddress,
		TokenFile:   tokenFile,
		LogLevel:    DefaultLogLevel,
		Source:      types.SourceVault,
		Path:        DefaultPath,
		Output:      types.OutputVault,
		Indent:      2,
		Concurrency: 1,
	}
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string][]string{
	"address":         {"VAULT_ADDR"},
	"token":           {"VAULT_TOKEN"},
	"tls_skip_verify": {"VAULT_SKIP_VERIFY"},
	"log_level":       {"LOG_LEVEL"},
	"kubeconfig":      {"KUBECONFIG"},
}

// flagBindings maps config keys to command line flag names.
var flagBindings = map[string]string{
	"address":                "address",
	"token_file":             "token-file",
	"tls_skip_verify":        "tls-skip-verify",
	"log_level":              "log-level",
	"source":                 "source",
	"path":                   "path",
	"mask":                   "mask",
	"output":                 "output",
	"indent":                 "indent",
	"concurrency":            "concurrency",
	"kubeconfig":             "kubeconfig",
	"onepassword_token_file": "onepassword-token-file",
}

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
	// Flags are bound over every other source when set. Only flags the user
	// changed take effect.
	Flags *pflag.FlagSet
}

// ConfigDir returns $XDG_CONFIG_HOME/vaultdump, defaulting to
// ~/.config/vaultdump.
func ConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, AppName), nil
}

// Load resolves the configuration from defaults, the config file, the
// environment and flags, in increasing precedence. It returns the config file
// used, or "" when none was found.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("address", defaults.Address)
	v.SetDefault("token_file", defaults.TokenFile)
	v.SetDefault("tls_skip_verify", defaults.TLSSkipVerify)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("source", string(defaults.Source))
	v.SetDefault("path", defaults.Path)
	v.SetDefault("mask", defaults.Mask)
	v.SetDefault("output", string(defaults.Output))
	v.SetDefault("indent", defaults.Indent)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("kubeconfig", "")
	v.SetDefault("onepassword_token_file", "")
	v.SetDefault("token", "")

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, "", fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	resolvedPath := opts.ConfigFilePath
	if resolvedPath != "" {
		if !fileExists(resolvedPath) {
			return nil, "", errors.WrapWithSuggestions(
				fmt.Errorf("config file not found: %s", resolvedPath),
				"Loading configuration", "configuration",
				[]string{
					"Verify the file path is correct",
					"Check that the file exists and is readable",
				},
			)
		}
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			var err error
			if cfgDir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
			resolvedPath = p
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", errors.WrapWithSuggestions(err,
				"Loading configuration", "configuration",
				[]string{
					"Check that the file contains valid CUE syntax",
					"Verify the configuration values match the expected schema",
					"See 'vaultdump --help' for configuration options",
				},
			)
		}
	}

	if opts.Flags != nil {
		for key, name := range flagBindings {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", errors.ConfigError("Parsing configuration", "Configuration values have the wrong type", err)
	}
	cfg.TokenFile = expandHome(cfg.TokenFile)
	cfg.OnePasswordTokenFile = expandHome(cfg.OnePasswordTokenFile)
	cfg.Kubeconfig = expandHome(cfg.Kubeconfig)

	return &cfg, resolvedPath, nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return fmt.Errorf("%s: %w", path, userValue.Err())
	}

	// Unify with schema to validate against #Config definition
	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// VaultToken returns the token from the token setting or, failing that, the
// token file.
func (c *Config) VaultToken() (string, error) {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token, nil
	}
	if c.TokenFile == "" {
		return "", errors.TokenError("No Vault token provided", "~/.vault-token", nil)
	}

	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", errors.TokenError("Cannot read token file", c.TokenFile, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.TokenError("Token file is empty", c.TokenFile, nil)
	}
	return token, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
