package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	dumperrors "github.com/brizzbuzz/vaultdump/internal/errors"
	"github.com/brizzbuzz/vaultdump/internal/serialize"
	"github.com/brizzbuzz/vaultdump/internal/tree"
	"github.com/brizzbuzz/vaultdump/internal/types"
	"github.com/brizzbuzz/vaultdump/internal/validation"
)

func newConvertCommand(a *app) *cobra.Command {
	var from, prefix string

	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a saved dump between JSON, YAML and vault commands",
		Long: `Read a dump written by 'vaultdump dump' and print it in another format.

FILE is a JSON or YAML document or a script of 'vault kv put' lines; use
"-" to read standard input. The input format comes from --from or, when
omitted, from the file extension (.json, .yaml/.yml, .sh). --prefix is
the path the dump was taken at: it is stripped from command targets when
reading a script and prepended when writing one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd, args[0], from, prefix)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "input format: vault, json, yaml (default from the file extension)")
	flags.StringVar(&prefix, "prefix", "", "path the dump was taken at, e.g. secret/app/")
	flags.StringP("output", "o", string(types.OutputJSON), "output format: vault, json, yaml")
	flags.Int("indent", serialize.DefaultIndent, "JSON indentation, 0 for compact output")

	return cmd
}

func (a *app) runConvert(cmd *cobra.Command, file, from, prefix string) error {
	cfg, logger, err := a.setup(cmd)
	if err != nil {
		return err
	}
	// the dump default is vault commands, conversion defaults to JSON
	if !cmd.Flags().Changed("output") && cfg.Output == types.OutputVault {
		cfg.Output = types.OutputJSON
	}

	v := validation.NewValidator()
	if err := v.ValidateOutput(string(cfg.Output)); err != nil {
		return err
	}

	format, err := inputFormat(file, from)
	if err != nil {
		return err
	}

	data, err := a.readInput(file)
	if err != nil {
		return err
	}

	logger.Debug("converting", "file", file, "from", format, "to", cfg.Output)

	var root tree.Node
	if format == types.OutputVault {
		root, err = serialize.ParseCommands(bytes.NewReader(data), file, prefix)
	} else {
		root, err = serialize.LoadDocument(data)
	}
	if err != nil {
		return dumperrors.WrapWithSuggestions(err, "Reading dump", "serializer", []string{
			fmt.Sprintf("Check that %s was written by vaultdump dump", file),
			"Pass --from if the file extension does not match its content",
			"Pass the --prefix the dump was taken at when reading vault commands",
		})
	}

	return writeTree(a.stdout, root, cfg.Output, prefix, cfg.Indent)
}

// inputFormat returns the format named by from or implied by the extension
// of file.
func inputFormat(file, from string) (types.OutputFormat, error) {
	if from != "" {
		format, err := types.ParseOutputFormat(from)
		if err != nil {
			return "", dumperrors.ValidationError("Validating input format", "from", from, "one of vault, json, yaml")
		}
		return format, nil
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return types.OutputJSON, nil
	case ".yaml", ".yml":
		return types.OutputYAML, nil
	case ".sh":
		return types.OutputVault, nil
	}
	return "", dumperrors.ConfigValidationError(
		"from",
		file,
		"Cannot tell the input format from the file name",
		[]string{
			"Pass --from vault, --from json or --from yaml",
		},
	)
}

func (a *app) readInput(file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("reading standard input: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, dumperrors.FileOperationError("Reading dump", file, err.Error(), err)
	}
	return data, nil
}
