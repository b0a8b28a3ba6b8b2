package configimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImport_Formats(t *testing.T) {
	want := map[string]string{
		"{{yarn-site/yarn.resourcemanager.webapp.address}}": "rm1.example.com:8088",
		"{{yarn-site/yarn.http.policy}}":                    "HTTP_ONLY",
		"{{cluster-env/security_enabled}}":                  "false",
	}

	tests := []struct {
		name         string
		content      string
		wantFormat   ConfigFormat
		wantEncoding Encoding
	}{
		{
			name: "json tokens",
			content: `{
				"{{yarn-site/yarn.resourcemanager.webapp.address}}": "rm1.example.com:8088",
				"{{yarn-site/yarn.http.policy}}": "HTTP_ONLY",
				"{{cluster-env/security_enabled}}": false
			}`,
			wantFormat:   FormatTokens,
			wantEncoding: EncodingJSON,
		},
		{
			name: "yaml sites",
			content: `
yarn-site:
  yarn.resourcemanager.webapp.address: rm1.example.com:8088
  yarn.http.policy: HTTP_ONLY
cluster-env:
  security_enabled: false
`,
			wantFormat:   FormatSites,
			wantEncoding: EncodingYAML,
		},
		{
			name: "toml sites",
			content: `
[yarn-site]
"yarn.resourcemanager.webapp.address" = "rm1.example.com:8088"
"yarn.http.policy" = "HTTP_ONLY"

[cluster-env]
security_enabled = false
`,
			wantFormat:   FormatSites,
			wantEncoding: EncodingTOML,
		},
		{
			name: "ambari export",
			content: `{
				"href": "http://ambari:8080/api/v1/clusters/c1/configurations?type=yarn-site",
				"items": [
					{"type": "yarn-site", "tag": "version1", "properties": {
						"yarn.resourcemanager.webapp.address": "rm1.example.com:8088",
						"yarn.http.policy": "HTTP_ONLY"
					}},
					{"type": "cluster-env", "tag": "version1", "properties": {"security_enabled": "false"}}
				]
			}`,
			wantFormat:   FormatAmbari,
			wantEncoding: EncodingJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Import([]byte(tt.content), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, result.Format)
			assert.Equal(t, tt.wantEncoding, result.Encoding)
			assert.Equal(t, want, result.Configurations)
		})
	}
}

func TestImport_NumbersAndWarnings(t *testing.T) {
	result, err := Import([]byte(`{
		"{{yarn-site/port}}": 8088,
		"{{yarn-site/ratio}}": 0.25,
		"{{yarn-site/list}}": [1, 2],
		"plain": "x"
	}`), &ImportOptions{FormatHint: FormatTokens})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"{{yarn-site/port}}":  "8088",
		"{{yarn-site/ratio}}": "0.25",
	}, result.Configurations)
	assert.Len(t, result.Warnings, 2)
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		opts    *ImportOptions
		wantErr string
	}{
		{name: "empty", content: "", wantErr: "not a json, yaml or toml document"},
		{name: "scalar", content: "just text", wantErr: "not a json, yaml or toml document"},
		{name: "unrecognised layout", content: `{"a": "b", "c": 1}`, wantErr: "unable to detect configuration format"},
		{name: "bad json with hint", content: `{"a": `, opts: &ImportOptions{EncodingHint: EncodingJSON}, wantErr: "invalid JSON"},
		{name: "unknown format hint", content: `{"a": "b"}`, opts: &ImportOptions{FormatHint: "xml"}, wantErr: "no parser available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Import([]byte(tt.content), tt.opts)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestImportFile_UsesExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rm1.yml")
	require.NoError(t, os.WriteFile(path, []byte(`"{{yarn-site/yarn.http.policy}}": HTTPS_ONLY`+"\n"), 0600))

	result, err := ImportFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, EncodingYAML, result.Encoding)
	assert.Equal(t, "HTTPS_ONLY", result.Configurations["{{yarn-site/yarn.http.policy}}"])

	_, err = ImportFile(filepath.Join(dir, "missing.json"), nil)
	require.Error(t, err)
}

func TestEncodingFromPath(t *testing.T) {
	assert.Equal(t, EncodingJSON, EncodingFromPath("a/b.JSON"))
	assert.Equal(t, EncodingYAML, EncodingFromPath("b.yaml"))
	assert.Equal(t, EncodingTOML, EncodingFromPath("b.toml"))
	assert.Equal(t, EncodingUnknown, EncodingFromPath("b.conf"))
}

func TestMerge(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	merged := Merge(base, map[string]string{"b": "3", "c": "4"})
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged)
	assert.Equal(t, "2", base["b"])
}
