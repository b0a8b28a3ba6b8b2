package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultListen   = "127.0.0.1:9464"
	defaultInterval = 60 * time.Second
	defaultTimeout  = 5 * time.Second
)

// Config represents the main configuration structure
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	Evaluator *EvaluatorConfig `json:"evaluator,omitempty" mapstructure:"evaluator"`
	Targets   []*TargetConfig  `json:"targets" mapstructure:"targets"`

	Metrics *MetricsConfig `json:"metrics,omitempty" mapstructure:"metrics"`
	Tracing *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
	History *HistoryConfig `json:"history,omitempty" mapstructure:"history"`
	TLS     *TLSConfig     `json:"tls,omitempty" mapstructure:"tls"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// EvaluatorConfig holds settings shared by every evaluation.
type EvaluatorConfig struct {
	// Timeout applies when a target sets no connection.timeout parameter.
	Timeout            Duration        `json:"timeout" mapstructure:"timeout"`
	InsecureSkipVerify bool            `json:"insecure_skip_verify" mapstructure:"insecure-skip-verify"`
	TraceHTTP          bool            `json:"trace_http" mapstructure:"trace-http"`
	MaxRedirects       int             `json:"max_redirects" mapstructure:"max-redirects"`
	Kerberos           *KerberosConfig `json:"kerberos,omitempty" mapstructure:"kerberos"`
}

// KerberosConfig configures ticket acquisition.
type KerberosConfig struct {
	Krb5Conf   string   `json:"krb5_conf" mapstructure:"krb5-conf"`
	TempDir    string   `json:"temp_dir,omitempty" mapstructure:"temp-dir"`
	KinitTimer Duration `json:"kinit_timer" mapstructure:"kinit-timer"`
}

// TargetConfig is one ResourceManager to evaluate on a schedule.
type TargetConfig struct {
	Name     string   `json:"name" mapstructure:"name"`
	HostName string   `json:"host_name,omitempty" mapstructure:"host-name"`
	Interval Duration `json:"interval,omitempty" mapstructure:"interval"`

	// ConfigurationsFile is a json, yaml or toml token mapping. Entries in
	// Configurations override it.
	ConfigurationsFile string            `json:"configurations_file,omitempty" mapstructure:"configurations-file"`
	Configurations     map[string]string `json:"configurations,omitempty" mapstructure:"configurations"`
	Parameters         map[string]string `json:"parameters,omitempty" mapstructure:"parameters"`

	// StatusCommand gates evaluation: it must exit 0 for the target to be
	// evaluated. Run through "sh -c".
	StatusCommand string `json:"status_command,omitempty" mapstructure:"status-command"`
	// StatusEnv adds variables to the status command's environment, which
	// otherwise holds only an allow-list of the daemon's own.
	StatusEnv map[string]string `json:"status_env,omitempty" mapstructure:"status-env"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig represents OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp-endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// HistoryConfig controls how long alert records are kept.
type HistoryConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	Retention Duration `json:"retention" mapstructure:"retention"`
	// MaxRecords caps records kept per target; 0 disables the cap.
	MaxRecords int `json:"max_records" mapstructure:"max-records"`
}

// TLSConfig serves the HTTP API over HTTPS with certificates from a local
// CA.
type TLSConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// CertsDir defaults to <data_dir>/certs.
	CertsDir          string   `json:"certs_dir,omitempty" mapstructure:"certs-dir"`
	RequireClientCert bool     `json:"require_client_cert" mapstructure:"require-client-cert"`
	Hosts             []string `json:"hosts,omitempty" mapstructure:"hosts"`
}

// Duration is a time.Duration that reads and writes "90s" style strings in
// JSON. Plain numbers are taken as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:  defaultListen,
		DataDir: "", // Will be set to ~/.nmhealth by loader

		// Default logging configuration
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "nmhealth.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,  // 5 backup files
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false, // Use console format for readability
		},

		Evaluator: &EvaluatorConfig{
			Timeout:      Duration(defaultTimeout),
			MaxRedirects: 10,
			Kerberos: &KerberosConfig{
				Krb5Conf:   "/etc/krb5.conf",
				KinitTimer: Duration(4 * time.Hour),
			},
		},
		Targets: []*TargetConfig{},

		Metrics: &MetricsConfig{Enabled: true},
		Tracing: &TracingConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
		},
		History: &HistoryConfig{
			Enabled:    true,
			Retention:  Duration(7 * 24 * time.Hour),
			MaxRecords: 10000,
		},
		TLS: &TLSConfig{},
	}
}

// Validate fills zero values with defaults and rejects settings that can't
// work.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Logging == nil {
		c.Logging = defaults.Logging
	}
	if c.Evaluator == nil {
		c.Evaluator = defaults.Evaluator
	}
	if c.Evaluator.Timeout <= 0 {
		c.Evaluator.Timeout = Duration(defaultTimeout)
	}
	if c.Evaluator.MaxRedirects <= 0 {
		c.Evaluator.MaxRedirects = defaults.Evaluator.MaxRedirects
	}
	if c.Evaluator.Kerberos == nil {
		c.Evaluator.Kerberos = defaults.Evaluator.Kerberos
	}
	if c.Evaluator.Kerberos.KinitTimer <= 0 {
		c.Evaluator.Kerberos.KinitTimer = defaults.Evaluator.Kerberos.KinitTimer
	}
	if c.Metrics == nil {
		c.Metrics = defaults.Metrics
	}
	if c.Tracing == nil {
		c.Tracing = defaults.Tracing
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}
	if c.History == nil {
		c.History = defaults.History
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	if c.TLS == nil {
		c.TLS = defaults.TLS
	}

	if err := validateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, target := range c.Targets {
		if target == nil {
			return fmt.Errorf("targets[%d] is empty", i)
		}
		if strings.TrimSpace(target.Name) == "" {
			return fmt.Errorf("targets[%d] has no name", i)
		}
		if seen[target.Name] {
			return fmt.Errorf("duplicate target name %q", target.Name)
		}
		seen[target.Name] = true

		if target.Interval < 0 {
			return fmt.Errorf("target %q: interval must not be negative", target.Name)
		}
		if target.Interval == 0 {
			target.Interval = Duration(defaultInterval)
		}
		if target.ConfigurationsFile == "" && len(target.Configurations) == 0 {
			return fmt.Errorf("target %q: configurations_file or configurations is required", target.Name)
		}
	}

	return nil
}

// CertsDir is where the TLS certificates live.
func (c *Config) CertsDir() string {
	if c.TLS != nil && c.TLS.CertsDir != "" {
		return c.TLS.CertsDir
	}
	return filepath.Join(c.DataDir, "certs")
}

// Target returns the target with the given name, or nil.
func (c *Config) Target(name string) *TargetConfig {
	for _, target := range c.Targets {
		if target.Name == name {
			return target
		}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) error {
	if level == "" || validLogLevels[strings.ToLower(level)] {
		return nil
	}
	return fmt.Errorf("invalid log level %q: must be one of trace, debug, info, warn, error", level)
}
