package configimport

import (
	"fmt"
	"sort"
	"strconv"
)

// Parser is the interface that all format-specific parsers implement.
type Parser interface {
	// Parse converts a decoded document into a token mapping.
	Parse(doc map[string]interface{}) (map[string]string, []string, error)

	// Format returns the configuration format this parser handles.
	Format() ConfigFormat
}

// GetParser returns the appropriate parser for the given format.
func GetParser(format ConfigFormat) Parser {
	switch format {
	case FormatTokens:
		return &TokensParser{}
	case FormatSites:
		return &SitesParser{}
	case FormatAmbari:
		return &AmbariParser{}
	default:
		return nil
	}
}

// Token builds "{{configType/property}}".
func Token(configType, property string) string {
	return "{{" + configType + "/" + property + "}}"
}

// TokensParser handles flat token maps.
type TokensParser struct{}

// Format returns the configuration format this parser handles.
func (p *TokensParser) Format() ConfigFormat {
	return FormatTokens
}

// Parse copies token keys and skips everything else.
func (p *TokensParser) Parse(doc map[string]interface{}) (map[string]string, []string, error) {
	out := make(map[string]string, len(doc))
	var warnings []string
	for _, key := range sortedKeys(doc) {
		if !isToken(key) {
			warnings = append(warnings, fmt.Sprintf("ignoring %q: not a {{type/property}} token", key))
			continue
		}
		value, ok := stringify(doc[key])
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ignoring %q: value is not a scalar", key))
			continue
		}
		out[key] = value
	}
	return out, warnings, nil
}

// SitesParser handles {"yarn-site": {...}} documents.
type SitesParser struct{}

// Format returns the configuration format this parser handles.
func (p *SitesParser) Format() ConfigFormat {
	return FormatSites
}

// Parse flattens every config type into tokens.
func (p *SitesParser) Parse(doc map[string]interface{}) (map[string]string, []string, error) {
	out := make(map[string]string)
	var warnings []string
	for _, configType := range sortedKeys(doc) {
		properties, ok := doc[configType].(map[string]interface{})
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ignoring %q: not a property map", configType))
			continue
		}
		warnings = append(warnings, addProperties(out, configType, properties)...)
	}
	return out, warnings, nil
}

// AmbariParser handles the body of GET /api/v1/clusters/{c}/configurations.
type AmbariParser struct{}

// Format returns the configuration format this parser handles.
func (p *AmbariParser) Format() ConfigFormat {
	return FormatAmbari
}

// Parse flattens items[].properties. Later items win, the way later tags
// override earlier ones.
func (p *AmbariParser) Parse(doc map[string]interface{}) (map[string]string, []string, error) {
	items, ok := doc["items"].([]interface{})
	if !ok {
		return nil, nil, &ImportError{Type: "invalid_format", Message: "items is not a list"}
	}

	out := make(map[string]string)
	var warnings []string
	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ignoring items[%d]: not an object", i))
			continue
		}
		configType, _ := item["type"].(string)
		properties, ok := item["properties"].(map[string]interface{})
		if configType == "" || !ok {
			warnings = append(warnings, fmt.Sprintf("ignoring items[%d]: type or properties missing", i))
			continue
		}
		warnings = append(warnings, addProperties(out, configType, properties)...)
	}
	return out, warnings, nil
}

func addProperties(out map[string]string, configType string, properties map[string]interface{}) []string {
	var warnings []string
	for _, name := range sortedKeys(properties) {
		value, ok := stringify(properties[name])
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ignoring %s/%s: value is not a scalar", configType, name))
			continue
		}
		out[Token(configType, name)] = value
	}
	return warnings
}

// stringify renders scalars the way they appear in site files.
func stringify(v interface{}) (string, bool) {
	switch value := v.(type) {
	case nil:
		return "", true
	case string:
		return value, true
	case bool:
		return strconv.FormatBool(value), true
	case int:
		return strconv.Itoa(value), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case uint64:
		return strconv.FormatUint(value, 10), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	default:
		return "", false
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
