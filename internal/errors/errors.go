package errors

import (
	"fmt"
	"strings"
)

// DumpError represents a structured error with context and suggestions
type DumpError struct {
	Operation   string   // What operation was being performed
	Component   string   // Which component failed (config, vault, serializer, etc.)
	Issue       string   // The core issue description
	Context     string   // Additional context about the failure
	Suggestions []string // List of actionable suggestions to fix the issue
	Cause       error    // Underlying error that caused this
}

func (e *DumpError) Error() string {
	var parts []string

	// Main error message
	if e.Operation != "" && e.Component != "" {
		parts = append(parts, fmt.Sprintf("ERROR: %s failed in %s", e.Operation, e.Component))
	} else if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("ERROR: %s failed", e.Operation))
	} else {
		parts = append(parts, "ERROR: Operation failed")
	}

	if e.Issue != "" {
		parts = append(parts, fmt.Sprintf("  Issue: %s", e.Issue))
	}

	if e.Context != "" {
		parts = append(parts, fmt.Sprintf("  Context: %s", e.Context))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("  Cause: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		parts = append(parts, "")
		parts = append(parts, "  Suggestions:")
		for i, suggestion := range e.Suggestions {
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, suggestion))
		}
	}

	return strings.Join(parts, "\n")
}

func (e *DumpError) Unwrap() error {
	return e.Cause
}

// Error constructors for common scenarios

// ConfigError creates errors related to configuration parsing and validation
func ConfigError(operation, issue string, cause error) *DumpError {
	return &DumpError{
		Operation: operation,
		Component: "configuration",
		Issue:     issue,
		Cause:     cause,
	}
}

// ConfigValidationError creates detailed validation errors with suggestions
func ConfigValidationError(field, value, issue string, suggestions []string) *DumpError {
	return &DumpError{
		Operation:   "Configuration validation",
		Component:   "configuration",
		Issue:       issue,
		Context:     fmt.Sprintf("Field '%s' has value '%s'", field, value),
		Suggestions: suggestions,
	}
}

// FileOperationError creates errors for file system operations
func FileOperationError(operation, path, issue string, cause error) *DumpError {
	suggestions := []string{}

	if strings.Contains(issue, "permission denied") {
		suggestions = append(suggestions,
			fmt.Sprintf("Check if vaultdump can access '%s'", path),
			fmt.Sprintf("Check parent directory permissions: ls -la '%s'", getDirPath(path)),
		)
	} else if strings.Contains(issue, "no such file or directory") {
		suggestions = append(suggestions,
			fmt.Sprintf("Create parent directory: mkdir -p '%s'", getDirPath(path)),
			fmt.Sprintf("Verify the path is correct: '%s'", path),
		)
	} else if strings.Contains(issue, "disk") || strings.Contains(issue, "space") {
		suggestions = append(suggestions,
			"Check available disk space: df -h",
			"Clean up temporary files if needed",
		)
	}

	return &DumpError{
		Operation:   operation,
		Component:   "file system",
		Issue:       issue,
		Context:     fmt.Sprintf("Target path: %s", path),
		Suggestions: suggestions,
		Cause:       cause,
	}
}

// BackendError creates errors for secret store access. Suggestions depend on
// the backend and on keywords in the issue.
func BackendError(operation, backend, issue string, cause error) *DumpError {
	suggestions := []string{}

	switch {
	case strings.Contains(issue, "authentication") || strings.Contains(issue, "token"):
		suggestions = append(suggestions, authSuggestions(backend)...)
	case strings.Contains(issue, "not found"):
		suggestions = append(suggestions,
			"Check the path: it starts with the mount point, e.g. secret/app/",
			"Dump everything with --path / to see the available mounts",
		)
	case strings.Contains(issue, "connection") || strings.Contains(issue, "unavailable"):
		suggestions = append(suggestions, connectionSuggestions(backend)...)
	}

	return &DumpError{
		Operation:   operation,
		Component:   backend + " backend",
		Issue:       issue,
		Suggestions: suggestions,
		Cause:       cause,
	}
}

func authSuggestions(backend string) []string {
	switch backend {
	case "onepassword":
		return []string{
			"Verify your 1Password service account token is valid",
			"Ensure the service account has access to the vaults you dump",
			"Provide the token in OP_SERVICE_ACCOUNT_TOKEN or --onepassword-token-file",
		}
	case "kubernetes":
		return []string{
			"Check your current context: kubectl config current-context",
			"Verify you may list secrets: kubectl auth can-i list secrets --all-namespaces",
		}
	default:
		return []string{
			"Verify the token is valid: vault token lookup",
			"Log in again: vault login",
			"Store a token for vaultdump: vaultdump token set",
			"Check the token policy allows list on <mount>/metadata/* and read on <mount>/data/*",
		}
	}
}

func connectionSuggestions(backend string) []string {
	switch backend {
	case "onepassword":
		return []string{
			"Check internet connectivity",
			"Retry the operation in a few minutes",
		}
	case "kubernetes":
		return []string{
			"Check the cluster is reachable: kubectl cluster-info",
			"Point --kubeconfig at the right cluster",
		}
	default:
		return []string{
			"Check the server address: --address or VAULT_ADDR",
			"Check the server is unsealed: vault status",
			"Use --tls-skip-verify only for servers with self-signed certificates",
		}
	}
}

// ValidationError creates general validation errors
func ValidationError(operation, field, value, expectedFormat string) *DumpError {
	return &DumpError{
		Operation: operation,
		Component: "validation",
		Issue:     fmt.Sprintf("Invalid value '%s' for field '%s'", value, field),
		Context:   fmt.Sprintf("Expected format: %s", expectedFormat),
		Suggestions: []string{
			fmt.Sprintf("Update field '%s' to match the expected format", field),
			"Run vaultdump --help for valid values",
		},
	}
}

// TokenError creates token-related errors with setup instructions
func TokenError(issue, tokenPath string, cause error) *DumpError {
	suggestions := []string{
		"Provide a Vault token:",
		"  1. Log in with the vault CLI: vault login",
		"  2. Or export it: export VAULT_TOKEN=<token>",
		"  3. Or store it for vaultdump: vaultdump token set",
		fmt.Sprintf("  4. Or manually create file: echo '<token>' > %s", tokenPath),
		fmt.Sprintf("  5. Set correct permissions: chmod 600 %s", tokenPath),
	}

	return &DumpError{
		Operation:   "Token access",
		Component:   "authentication",
		Issue:       issue,
		Context:     fmt.Sprintf("Token file: %s", tokenPath),
		Suggestions: suggestions,
		Cause:       cause,
	}
}

// Helper functions

func getDirPath(filePath string) string {
	lastSlash := strings.LastIndex(filePath, "/")
	if lastSlash == -1 {
		return "."
	}
	if lastSlash == 0 {
		return "/"
	}
	return filePath[:lastSlash]
}

// Wrap provides a simple way to wrap existing errors with vaultdump context
func Wrap(err error, operation, component string) error {
	if err == nil {
		return nil
	}

	return &DumpError{
		Operation: operation,
		Component: component,
		Issue:     err.Error(),
		Cause:     err,
	}
}

// WrapWithSuggestions wraps an error and adds suggestions
func WrapWithSuggestions(err error, operation, component string, suggestions []string) error {
	if err == nil {
		return nil
	}

	return &DumpError{
		Operation:   operation,
		Component:   component,
		Issue:       err.Error(),
		Suggestions: suggestions,
		Cause:       err,
	}
}
