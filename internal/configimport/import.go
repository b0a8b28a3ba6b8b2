package configimport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Import parses a document and returns its token mapping.
// It detects the encoding and the layout unless hinted.
func Import(content []byte, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	// Step 1: Decode
	doc, encoding, err := Decode(content, opts.EncodingHint)
	if err != nil {
		return nil, err
	}

	// Step 2: Detect format
	var format ConfigFormat
	if opts.FormatHint != "" && opts.FormatHint != FormatUnknown {
		format = opts.FormatHint
	} else {
		detection, err := DetectFormat(doc)
		if err != nil {
			return nil, err
		}
		format = detection.Format
	}

	// Step 3: Parse
	parser := GetParser(format)
	if parser == nil {
		return nil, &ImportError{
			Type:    "unknown_format",
			Message: fmt.Sprintf("no parser available for format: %s", format),
		}
	}

	configurations, warnings, err := parser.Parse(doc)
	if err != nil {
		return nil, err
	}

	return &ImportResult{
		Format:         format,
		Encoding:       encoding,
		Configurations: configurations,
		Warnings:       warnings,
	}, nil
}

// ImportFile reads path and imports it, taking the encoding from the file
// extension when it is a known one.
func ImportFile(path string, opts *ImportOptions) (*ImportResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configurations file: %w", err)
	}

	o := ImportOptions{}
	if opts != nil {
		o = *opts
	}
	if o.EncodingHint == EncodingUnknown {
		o.EncodingHint = EncodingFromPath(path)
	}

	result, err := Import(content, &o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// EncodingFromPath maps a file extension to an encoding.
func EncodingFromPath(path string) Encoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return EncodingJSON
	case ".yaml", ".yml":
		return EncodingYAML
	case ".toml":
		return EncodingTOML
	default:
		return EncodingUnknown
	}
}

// Merge returns base overlaid with overrides. Neither input is modified.
func Merge(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
