// Package configimport reads configuration-token mappings for the alert from
// json, yaml or toml documents. Three layouts are accepted: a flat token map,
// a map of config types to properties, and an Ambari desired-configs export.
package configimport

// ConfigFormat represents supported document layouts
type ConfigFormat string

const (
	FormatUnknown ConfigFormat = "unknown"
	// FormatTokens is {"{{yarn-site/yarn.http.policy}}": "HTTP_ONLY", ...}
	FormatTokens ConfigFormat = "tokens"
	// FormatSites is {"yarn-site": {"yarn.http.policy": "HTTP_ONLY"}, ...}
	FormatSites ConfigFormat = "sites"
	// FormatAmbari is {"items": [{"type": "yarn-site", "properties": {...}}]}
	FormatAmbari ConfigFormat = "ambari"
)

// String returns human-readable format name for display
func (f ConfigFormat) String() string {
	switch f {
	case FormatTokens:
		return "Token map"
	case FormatSites:
		return "Config types"
	case FormatAmbari:
		return "Ambari configurations export"
	default:
		return "Unknown"
	}
}

// Encoding is the serialization of a document.
type Encoding string

const (
	EncodingUnknown Encoding = ""
	EncodingJSON    Encoding = "json"
	EncodingYAML    Encoding = "yaml"
	EncodingTOML    Encoding = "toml"
)

// DetectionResult contains the result of format auto-detection.
type DetectionResult struct {
	// Format is the detected configuration format
	Format ConfigFormat

	// Confidence indicates detection certainty: "high", "medium", "low"
	Confidence string

	// Indicators lists the detection signals found
	Indicators []string
}

// ImportOptions configures the import behavior.
type ImportOptions struct {
	// FormatHint is optional format override for auto-detection
	FormatHint ConfigFormat

	// EncodingHint skips encoding detection, e.g. when the file extension
	// is known.
	EncodingHint Encoding
}

// ImportResult contains the complete result of an import operation.
type ImportResult struct {
	Format   ConfigFormat `json:"format"`
	Encoding Encoding     `json:"encoding"`

	// Configurations maps tokens to values, ready for alert.Invocation.
	Configurations map[string]string `json:"configurations"`

	// Warnings are non-fatal issues across the import
	Warnings []string `json:"warnings,omitempty"`
}

// ImportError represents a structured error for import failures.
type ImportError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	return e.Message
}
