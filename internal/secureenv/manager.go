// Package secureenv builds the environment status commands run with: an
// allow-list of the daemon's own variables plus the target's extras.
package secureenv

import (
	"os"
	"sort"
	"strings"
)

// fallbackPath is used when the daemon itself has no PATH, as under some
// init systems.
const fallbackPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// EnvConfig represents environment configuration for secure filtering
type EnvConfig struct {
	InheritSystemSafe bool              `json:"inherit_system_safe"`
	AllowedSystemVars []string          `json:"allowed_system_vars"`
	CustomVars        map[string]string `json:"custom_vars"`
}

// DefaultEnvConfig allows the variables a service status script usually
// needs: the basics, locale, and the Java, Hadoop and Kerberos locations.
// A trailing "*" matches a prefix.
func DefaultEnvConfig() *EnvConfig {
	return &EnvConfig{
		InheritSystemSafe: true,
		AllowedSystemVars: []string{
			"PATH",
			"HOME",
			"TMPDIR",
			"SHELL",
			"USER",
			"LOGNAME",
			"LANG",
			"LC_*",
			"JAVA_HOME",
			"HADOOP_*",
			"YARN_*",
			"KRB5CCNAME",
			"KRB5_CONFIG",
		},
		CustomVars: make(map[string]string),
	}
}

// Manager handles secure environment variable filtering
type Manager struct {
	config  *EnvConfig
	environ func() []string
}

// NewManager creates a new secure environment manager
func NewManager(config *EnvConfig) *Manager {
	if config == nil {
		config = DefaultEnvConfig()
	}
	return &Manager{
		config:  config,
		environ: os.Environ,
	}
}

// BuildSecureEnvironment returns KEY=VALUE pairs for exec.Cmd.Env. Custom
// variables replace inherited ones with the same key and are sorted by key.
func (m *Manager) BuildSecureEnvironment() []string {
	var envVars []string

	if m.config.InheritSystemSafe {
		for _, envVar := range m.environ() {
			key, _, _ := strings.Cut(envVar, "=")
			if _, overridden := m.config.CustomVars[key]; overridden {
				continue
			}
			if m.isKeyAllowed(key) {
				envVars = append(envVars, envVar)
			}
		}
	}

	keys := make([]string, 0, len(m.config.CustomVars))
	for k := range m.config.CustomVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		envVars = append(envVars, k+"="+m.config.CustomVars[k])
	}

	if !hasKey(envVars, "PATH") {
		envVars = append(envVars, "PATH="+fallbackPath)
	}
	return envVars
}

// isKeyAllowed checks if a key is in the allowed list
func (m *Manager) isKeyAllowed(key string) bool {
	for _, allowedKey := range m.config.AllowedSystemVars {
		if prefix, ok := strings.CutSuffix(allowedKey, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if allowedKey == key {
			return true
		}
	}
	return false
}

// GetFilteredEnvCount returns the number of filtered and total system environment variables
func (m *Manager) GetFilteredEnvCount() (filteredCount, totalCount int) {
	systemEnv := m.environ()
	for _, envVar := range systemEnv {
		key, _, _ := strings.Cut(envVar, "=")
		if m.isKeyAllowed(key) {
			filteredCount++
		}
	}
	return filteredCount, len(systemEnv)
}

func hasKey(envVars []string, key string) bool {
	for _, envVar := range envVars {
		if strings.HasPrefix(envVar, key+"=") {
			return true
		}
	}
	return false
}
