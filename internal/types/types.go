package types

import "fmt"

// Source selects the secrets backend a dump reads from
type Source string

const (
	SourceVault       Source = "vault"
	SourceOnePassword Source = "onepassword"
	SourceKubernetes  Source = "kubernetes"
)

// Sources lists every supported source
var Sources = []Source{SourceVault, SourceOnePassword, SourceKubernetes}

// OutputFormat selects how a collected tree is written
type OutputFormat string

const (
	// OutputVault writes one "vault kv put" line per secret
	OutputVault OutputFormat = "vault"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// OutputFormats lists every supported output format
var OutputFormats = []OutputFormat{OutputVault, OutputJSON, OutputYAML}

// ParseSource returns the Source named s
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// ParseOutputFormat returns the OutputFormat named s
func ParseOutputFormat(s string) (OutputFormat, error) {
	for _, f := range OutputFormats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}
