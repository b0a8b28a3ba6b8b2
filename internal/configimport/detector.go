package configimport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned when the configuration format cannot be detected.
var ErrUnknownFormat = fmt.Errorf("unable to detect configuration format: supported formats are token maps, config types and Ambari configuration exports")

// Decode parses content into a generic document. With no hint it tries TOML,
// then JSON, then YAML.
func Decode(content []byte, hint Encoding) (map[string]interface{}, Encoding, error) {
	decoders := []struct {
		encoding Encoding
		decode   func([]byte) (map[string]interface{}, error)
	}{
		{EncodingTOML, decodeTOML},
		{EncodingJSON, decodeJSON},
		{EncodingYAML, decodeYAML},
	}

	if hint != EncodingUnknown {
		for _, d := range decoders {
			if d.encoding != hint {
				continue
			}
			doc, err := d.decode(content)
			if err != nil {
				return nil, hint, &ImportError{
					Type:    "parse_error",
					Message: fmt.Sprintf("invalid %s: %v", strings.ToUpper(string(hint)), err),
				}
			}
			return doc, hint, nil
		}
		return nil, hint, &ImportError{Type: "parse_error", Message: fmt.Sprintf("unsupported encoding %q", hint)}
	}

	for _, d := range decoders {
		if doc, err := d.decode(content); err == nil && doc != nil {
			return doc, d.encoding, nil
		}
	}
	return nil, EncodingUnknown, &ImportError{
		Type:    "parse_error",
		Message: "content is not a json, yaml or toml document",
	}
}

func decodeTOML(content []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if _, err := toml.Decode(string(content), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeJSON(content []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeYAML(content []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DetectFormat identifies the layout of a decoded document.
func DetectFormat(doc map[string]interface{}) (*DetectionResult, error) {
	if len(doc) == 0 {
		return nil, ErrUnknownFormat
	}

	// Ambari: items[].type + items[].properties
	if items, ok := doc["items"].([]interface{}); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]interface{}); ok {
			_, hasType := item["type"]
			_, hasProps := item["properties"]
			if hasType && hasProps {
				return &DetectionResult{
					Format:     FormatAmbari,
					Confidence: "high",
					Indicators: []string{"items_key", "type_key", "properties_key"},
				}, nil
			}
		}
	}

	tokens, nested := 0, 0
	for key, value := range doc {
		if isToken(key) {
			tokens++
		}
		if _, ok := value.(map[string]interface{}); ok {
			nested++
		}
	}

	switch {
	case tokens == len(doc):
		return &DetectionResult{
			Format:     FormatTokens,
			Confidence: "high",
			Indicators: []string{"token_keys"},
		}, nil
	case nested == len(doc):
		return &DetectionResult{
			Format:     FormatSites,
			Confidence: "medium",
			Indicators: []string{"nested_properties"},
		}, nil
	case tokens > 0:
		return &DetectionResult{
			Format:     FormatTokens,
			Confidence: "low",
			Indicators: []string{"some_token_keys"},
		}, nil
	}
	return nil, ErrUnknownFormat
}

func isToken(key string) bool {
	return strings.HasPrefix(key, "{{") && strings.HasSuffix(key, "}}") && strings.Contains(key, "/")
}
