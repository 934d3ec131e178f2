package validation

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/brizzbuzz/vaultdump/internal/config"
	"github.com/brizzbuzz/vaultdump/internal/errors"
	"github.com/brizzbuzz/vaultdump/internal/types"
)

// MaxConcurrency bounds the number of backend calls in flight.
const MaxConcurrency = 64

// Validator provides comprehensive validation with helpful error messages
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig checks a resolved configuration before anything talks to a
// backend.
func (v *Validator) ValidateConfig(cfg *config.Config) error {
	if err := v.validateSource(cfg.Source); err != nil {
		return err
	}
	if err := v.ValidatePath(cfg.Path); err != nil {
		return err
	}
	if err := v.ValidateOutput(string(cfg.Output)); err != nil {
		return err
	}
	if err := v.validateIndent(cfg.Indent); err != nil {
		return err
	}
	if err := v.validateConcurrency(cfg.Concurrency); err != nil {
		return err
	}
	if err := v.validateLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.Source == types.SourceVault {
		if err := v.ValidateAddress(cfg.Address); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateSource(source types.Source) error {
	if _, err := types.ParseSource(string(source)); err != nil {
		return errors.ConfigValidationError(
			"source",
			string(source),
			"Unknown secrets source",
			[]string{
				fmt.Sprintf("Use one of: %s", joinSources()),
				"Example: --source kubernetes",
			},
		)
	}
	return nil
}

// ValidatePath validates the starting path of a dump
func (v *Validator) ValidatePath(path string) error {
	if path == "" {
		return errors.ConfigValidationError(
			"path",
			"<empty>",
			"Path cannot be empty",
			[]string{
				"Use / to dump every KV v2 mount",
				"Use a mount such as secret/ or a sub-path such as secret/app/",
			},
		)
	}

	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	for _, segment := range strings.Split(trimmed, "/") {
		switch segment {
		case "":
			return errors.ConfigValidationError(
				"path",
				path,
				"Path contains an empty segment (//)",
				[]string{
					"Remove the doubled slash",
					fmt.Sprintf("Did you mean %s?", collapseSlashes(path)),
				},
			)
		case "..", ".":
			return errors.ConfigValidationError(
				"path",
				path,
				"Path traversal detected (contains '.' or '..')",
				[]string{
					"Remove relative segments from the path",
					"Paths start at the mount point, e.g. secret/app/",
				},
			)
		}
	}
	return nil
}

// ValidateOutput validates an output format name
func (v *Validator) ValidateOutput(output string) error {
	if _, err := types.ParseOutputFormat(output); err != nil {
		return errors.ValidationError(
			"Validating output",
			"output",
			output,
			"one of vault, json, yaml",
		)
	}
	return nil
}

func (v *Validator) validateIndent(indent int) error {
	if indent < 0 {
		return errors.ValidationError(
			"Validating indent",
			"indent",
			fmt.Sprint(indent),
			"non-negative integer (0 writes compact JSON)",
		)
	}
	return nil
}

func (v *Validator) validateConcurrency(n int) error {
	if n < 1 || n > MaxConcurrency {
		return errors.ConfigValidationError(
			"concurrency",
			fmt.Sprint(n),
			fmt.Sprintf("Concurrency must be between 1 and %d", MaxConcurrency),
			[]string{
				"Use 1 for a strictly sequential dump",
				"Raise it to speed up large trees, within your server's rate limits",
			},
		)
	}
	return nil
}

func (v *Validator) validateLogLevel(level string) error {
	if _, err := log.ParseLevel(level); err != nil {
		return errors.ValidationError(
			"Validating log level",
			"log_level",
			level,
			"one of debug, info, warn, error",
		)
	}
	return nil
}

// ValidateAddress validates a Vault server address
func (v *Validator) ValidateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.ConfigValidationError(
			"address",
			address,
			"Address must be an http or https URL",
			[]string{
				"Example: https://vault.example.com:8200",
				"Set it with --address or VAULT_ADDR",
			},
		)
	}
	return nil
}

// ValidateTokenFile validates the token file exists and is not empty
func (v *Validator) ValidateTokenFile(tokenPath string) error {
	content, err := os.ReadFile(tokenPath)
	if os.IsNotExist(err) {
		return errors.TokenError(
			fmt.Sprintf("Token file does not exist: %s", tokenPath),
			tokenPath,
			err,
		)
	}
	if err != nil {
		return errors.TokenError(
			fmt.Sprintf("Cannot read token file: %s", err.Error()),
			tokenPath,
			err,
		)
	}

	if len(strings.TrimSpace(string(content))) == 0 {
		return errors.TokenError(
			"Token file is empty",
			tokenPath,
			nil,
		)
	}

	return nil
}

// ValidateTokenFileMode reports token files that other users can read or
// write.
func (v *Validator) ValidateTokenFileMode(tokenPath string) error {
	info, err := os.Stat(tokenPath)
	if err != nil {
		return errors.FileOperationError("Checking token file", tokenPath, err.Error(), err)
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		return errors.ConfigValidationError(
			"token_file",
			fmt.Sprintf("%s (%04o)", tokenPath, mode),
			"Token file is accessible by other users",
			[]string{
				fmt.Sprintf("Restrict it: chmod 600 %s", tokenPath),
			},
		)
	}
	return nil
}

func joinSources() string {
	names := make([]string, len(types.Sources))
	for i, s := range types.Sources {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}
