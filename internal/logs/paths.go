package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "nmhealth"

// GetLogDir returns the standard log directory for the current OS:
//
//	linux (root)  /var/log/nmhealth
//	linux         $XDG_STATE_HOME/nmhealth/logs (~/.local/state/nmhealth/logs)
//	darwin        ~/Library/Logs/nmhealth
//	windows       %LOCALAPPDATA%\nmhealth\logs
func GetLogDir() (string, error) {
	return logDirFor(runtime.GOOS, os.Getenv, os.Getuid(), os.UserHomeDir), nil
}

func logDirFor(goos string, getenv func(string) string, uid int, home func() (string, error)) string {
	homeDir, err := home()
	if err != nil || homeDir == "" {
		return filepath.Join(os.TempDir(), appName, "logs")
	}

	switch goos {
	case "windows":
		if local := getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "logs")
		}
		return filepath.Join(homeDir, "AppData", "Local", appName, "logs")
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", appName)
	case "linux":
		if uid == 0 {
			return filepath.Join("/var/log", appName)
		}
		stateDir := getenv("XDG_STATE_HOME")
		if stateDir == "" {
			stateDir = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateDir, appName, "logs")
	default:
		return filepath.Join(homeDir, "."+appName, "logs")
	}
}

// GetLogFilePathWithDir returns the full path for a log file, creating the
// directory. An empty logDir means the standard directory; "~/" is expanded.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(logDir, filename), nil
}
