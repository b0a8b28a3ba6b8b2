package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9464", cfg.Listen)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Evaluator.Timeout.Std())
	assert.Equal(t, 4*time.Hour, cfg.Evaluator.Kerberos.KinitTimer.Std())
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Targets)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"listen": "0.0.0.0:9000",
		"data_dir": "`+filepath.ToSlash(filepath.Join(dir, "data"))+`",
		"logging": {"level": "debug", "enable_console": true},
		"evaluator": {"timeout": "2.5s", "kerberos": {"krb5_conf": "/opt/krb5.conf"}},
		"targets": [
			{
				"name": "rm1",
				"host_name": "rm1.example.com",
				"interval": 30,
				"configurations_file": "rm1.yaml",
				"parameters": {"connection.timeout": "3"}
			},
			{
				"name": "rm2",
				"configurations": {"{{yarn-site/yarn.resourcemanager.webapp.address}}": "rm2:8088"}
			}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2500*time.Millisecond, cfg.Evaluator.Timeout.Std())
	assert.Equal(t, "/opt/krb5.conf", cfg.Evaluator.Kerberos.Krb5Conf)
	// Missing kerberos fields are filled by Validate.
	assert.Equal(t, 4*time.Hour, cfg.Evaluator.Kerberos.KinitTimer.Std())

	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, 30*time.Second, cfg.Targets[0].Interval.Std())
	assert.Equal(t, filepath.Join(dir, "rm1.yaml"), cfg.Targets[0].ConfigurationsFile)
	assert.Equal(t, 60*time.Second, cfg.Targets[1].Interval.Std())
	assert.NotNil(t, cfg.Target("rm2"))
	assert.Nil(t, cfg.Target("rm3"))

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"listen": "127.0.0.1:1"}`)

	t.Setenv("NMHEALTH_LISTEN", "127.0.0.1:2")
	t.Setenv("NMHEALTH_DATA_DIR", filepath.Join(dir, "env-data"))
	t.Setenv("NMHEALTH_LOG_LEVEL", "warn")
	t.Setenv("NMHEALTH_EVALUATOR_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2", cfg.Listen)
	assert.Equal(t, filepath.Join(dir, "env-data"), cfg.DataDir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 750*time.Millisecond, cfg.Evaluator.Timeout.Std())
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	t.Setenv("NMHEALTH_DATA_DIR", filepath.Join(dir, "data"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
}

func TestLoad_TLS(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	cfg, err := Load(writeConfig(t, dir, `{"data_dir": "`+dataDir+`", "tls": {"enabled": true, "hosts": ["rm-monitor"]}}`))
	require.NoError(t, err)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, []string{"rm-monitor"}, cfg.TLS.Hosts)
	assert.Equal(t, filepath.Join(dataDir, "certs"), cfg.CertsDir())

	cfg.TLS.CertsDir = "/etc/nmhealth/certs"
	assert.Equal(t, "/etc/nmhealth/certs", cfg.CertsDir())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "bad json", content: `{"listen": `, wantErr: "failed to parse config file"},
		{name: "bad duration", content: `{"evaluator": {"timeout": "soon"}}`, wantErr: "invalid duration"},
		{name: "bad log level", content: `{"logging": {"level": "loud"}}`, wantErr: "invalid log level"},
		{name: "unnamed target", content: `{"targets": [{"configurations": {"a": "b"}}]}`, wantErr: "has no name"},
		{name: "duplicate target", content: `{"targets": [{"name": "a", "configurations": {"a": "b"}}, {"name": "a", "configurations": {"a": "b"}}]}`, wantErr: "duplicate target"},
		{name: "target without configurations", content: `{"targets": [{"name": "a"}]}`, wantErr: "configurations_file or configurations is required"},
		{name: "sample rate", content: `{"tracing": {"sample_rate": 2}}`, wantErr: "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, tt.content)
			t.Setenv("NMHEALTH_DATA_DIR", filepath.Join(dir, "data"))

			cfg, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1.5`), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	data, err := json.Marshal(Duration(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"2m0s"`, string(data))
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Targets = []*TargetConfig{{
		Name:           "rm1",
		Interval:       Duration(time.Minute),
		Configurations: map[string]string{"k": "v"},
	}}

	path := GetConfigPath(dir)
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Targets, 1)
	assert.Equal(t, time.Minute, loaded.Targets[0].Interval.Std())
	assert.Equal(t, map[string]string{"k": "v"}, loaded.Targets[0].Configurations)
}
