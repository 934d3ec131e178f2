package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	dumperrors "github.com/brizzbuzz/vaultdump/internal/errors"
)

const tokenFileMode = 0600

func newTokenCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored Vault token",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Prompt for a Vault token and store it in the token file",
		Args:  cobra.NoArgs,
		RunE:  a.runTokenSet,
	}
	set.Flags().String("token-file", "", "file to store the token in (default ~/.vault-token)")

	cmd.AddCommand(set)
	return cmd
}

func (a *app) runTokenSet(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := a.setup(cmd)
	if err != nil {
		return err
	}
	path := cfg.TokenFile

	// Check permissions before prompting for input
	if err := checkWritePermissions(path); err != nil {
		return err
	}

	fmt.Fprintln(a.stderr, "Please paste your Vault token (press Enter when done):")

	token, err := a.readToken()
	if err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	if token == "" {
		return dumperrors.TokenError("Token cannot be empty", path, nil)
	}

	if err := os.WriteFile(path, []byte(token), tokenFileMode); err != nil {
		return dumperrors.FileOperationError("Writing token file", path, err.Error(), err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, tokenFileMode); err != nil {
		return dumperrors.FileOperationError("Securing token file", path, err.Error(), err)
	}

	logger.Debug("stored token", "file", path)
	fmt.Fprintln(a.stderr, successStyle.Render("Token successfully stored at "+path))
	return nil
}

// readToken reads one line from stdin without echo when stdin is a terminal.
func (a *app) readToken() (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// checkWritePermissions verifies we can write to the directory
func checkWritePermissions(path string) error {
	dir := filepath.Dir(path)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return dumperrors.FileOperationError("Creating token directory", dir, err.Error(), err)
		}
	}

	// Test write permissions by attempting to create a temporary file
	tmpFile := filepath.Join(dir, ".vaultdump-write-test")
	f, err := os.OpenFile(tmpFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return dumperrors.FileOperationError("Checking token directory", dir, err.Error(), err)
	}
	_ = f.Close()
	_ = os.Remove(tmpFile)

	return nil
}
