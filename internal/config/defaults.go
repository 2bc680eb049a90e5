package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const appName = "autokeyd"

// DataDir returns the data directory.
//
// Paths, in order of preference:
//   - $AUTOKEYD_DATA_DIR
//   - $XDG_DATA_HOME/autokeyd
//   - ~/.local/share/autokeyd
func DataDir() string {
	if dir := os.Getenv("AUTOKEYD_DATA_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigDir returns $XDG_CONFIG_HOME/autokeyd or ~/.config/autokeyd.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns $XDG_STATE_HOME/autokeyd or ~/.local/state/autokeyd.
// Logs and crash reports live here.
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the directory for the control socket.
//
//   - $XDG_RUNTIME_DIR/autokeyd (usually /run/user/$UID/autokeyd)
//   - /tmp/autokeyd-$UID
func RuntimeDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, appName)
	}
	return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid()))
}

// DefaultSocketPath is the control socket inside RuntimeDir.
func DefaultSocketPath() string {
	return filepath.Join(RuntimeDir(), appName+".sock")
}

func xdgDir(env string, fallback ...string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...)
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	if p := os.Getenv("AUTOKEYD_CONFIG"); p != "" {
		return p
	}
	for _, dir := range []string{ConfigDir(), DataDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
