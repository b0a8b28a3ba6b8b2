package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".nmhealth"
	ConfigFileName = "nmhealth.json"
	EnvPrefix      = "NMHEALTH"
)

// Load loads configuration from file, environment, and defaults. An empty
// configPath falls back to NMHEALTH_CONFIG and then to the usual locations;
// finding no file at all is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper()

	if configPath == "" {
		configPath = v.GetString("config")
	}
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if _, _, err := findAndLoadConfigFile(cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(v, cfg); err != nil {
		return nil, err
	}

	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newViper configures viper with environment variable handling
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// NMHEALTH_DATA_DIR, NMHEALTH_EVALUATOR_TIMEOUT
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("config", "")
	return v
}

// applyEnvOverrides applies NMHEALTH_* variables on top of the file.
func applyEnvOverrides(v *viper.Viper, cfg *Config) error {
	if value := v.GetString("listen"); value != "" {
		cfg.Listen = value
	}
	if value := v.GetString("data-dir"); value != "" {
		cfg.DataDir = value
	}

	if cfg.Logging == nil {
		cfg.Logging = DefaultConfig().Logging
	}
	if value := v.GetString("log-level"); value != "" {
		cfg.Logging.Level = value
	}
	if value := v.GetString("log-dir"); value != "" {
		cfg.Logging.LogDir = value
	}

	if cfg.Evaluator == nil {
		cfg.Evaluator = DefaultConfig().Evaluator
	}
	if value := v.GetString("evaluator.timeout"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s_EVALUATOR_TIMEOUT %q: %w", EnvPrefix, value, err)
		}
		cfg.Evaluator.Timeout = Duration(d)
	}
	if value := v.GetString("krb5-conf"); value != "" {
		if cfg.Evaluator.Kerberos == nil {
			cfg.Evaluator.Kerberos = DefaultConfig().Evaluator.Kerberos
		}
		cfg.Evaluator.Kerberos.Krb5Conf = value
	}

	if value := v.GetString("metrics.enabled"); value != "" {
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
	if value := v.GetString("tracing.endpoint"); value != "" {
		if cfg.Tracing == nil {
			cfg.Tracing = DefaultConfig().Tracing
		}
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = value
	}
	return nil
}

func ensureDataDir(cfg *Config) error {
	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	return nil
}

// findAndLoadConfigFile tries to find config file in common locations
func findAndLoadConfigFile(cfg *Config) (found bool, path string, err error) {
	locations := []string{
		ConfigFileName,
		filepath.Join("/etc", "nmhealth", ConfigFileName),
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := loadConfigFile(location, cfg); err != nil {
				return true, location, fmt.Errorf("failed to load config file %s: %w", location, err)
			}
			return true, location, nil
		}
	}
	return false, "", nil
}

// loadConfigFile loads configuration from a JSON file
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file (including /dev/null) is treated as no configuration
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Relative configuration files are relative to the config file.
	base := filepath.Dir(path)
	for _, target := range cfg.Targets {
		if target != nil && target.ConfigurationsFile != "" && !filepath.IsAbs(target.ConfigurationsFile) {
			target.ConfigurationsFile = filepath.Join(base, target.ConfigurationsFile)
		}
	}
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file in the data directory
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	return filepath.Join(dataDir, ConfigFileName)
}
