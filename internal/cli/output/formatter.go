// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"fmt"
	"os"
	"strings"
)

// OutputEnvVar selects the default output format.
const OutputEnvVar = "NMHEALTH_OUTPUT"

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// OutputFormatter renders command results. The table formatter is for
// people; JSON and YAML keep the same field names for scripts.
type OutputFormatter interface {
	Format(data interface{}) (string, error)
	FormatError(err StructuredError) (string, error)
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter accepts table, json or yaml in any case. NO_COLOR turns off
// state colors in tables.
func NewFormatter(format string) (OutputFormatter, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatTable, "":
		return &TableFormatter{NoColor: os.Getenv("NO_COLOR") != ""}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat picks the -o flag, then NMHEALTH_OUTPUT, then table.
func ResolveFormat(outputFlag string) string {
	if outputFlag != "" {
		return strings.ToLower(outputFlag)
	}
	if env := os.Getenv(OutputEnvVar); env != "" {
		return strings.ToLower(env)
	}
	return FormatTable
}

// IsStructured reports whether format emits machine-readable output.
func IsStructured(format string) bool {
	return format == FormatJSON || format == FormatYAML
}
