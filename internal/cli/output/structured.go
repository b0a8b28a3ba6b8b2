package output

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// JSONFormatter prints JSON, indented by two spaces when Indent is set.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data interface{}) (string, error) {
	marshal := json.Marshal
	if f.Indent {
		marshal = func(v interface{}) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	out, err := marshal(data)
	return string(out), err
}

func (f *JSONFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

// FormatTable prints one object per row, keyed by the lower-cased header.
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowObjects(headers, rows))
}

// YAMLFormatter prints YAML documents.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	out, err := yaml.Marshal(data)
	return string(out), err
}

func (f *YAMLFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowObjects(headers, rows))
}

// rowObjects turns table rows into maps. Short rows get empty values.
func rowObjects(headers []string, rows [][]string) []map[string]string {
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = strings.ToLower(strings.ReplaceAll(h, " ", "_"))
	}
	objects := make([]map[string]string, len(rows))
	for r, row := range rows {
		obj := make(map[string]string, len(keys))
		for i, key := range keys {
			if i < len(row) {
				obj[key] = row[i]
			} else {
				obj[key] = ""
			}
		}
		objects[r] = obj
	}
	return objects
}
