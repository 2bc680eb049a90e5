// Package config handles configuration loading and validation for autokeyd.
//
// Configuration can be loaded from TOML, JSON, or YAML files.
// Environment variables can override file-based configuration.
//
// Default configuration location:
//   - Linux: $XDG_CONFIG_HOME/autokeyd/config.toml
//   - other: ~/.config/autokeyd/config.toml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 2

// Config holds all autokeyd configuration.
type Config struct {
	// Version of the configuration schema.
	Version int `toml:"version" json:"version" yaml:"version"`

	Paths     PathsConfig     `toml:"paths" json:"paths" yaml:"paths"`
	Engine    EngineConfig    `toml:"engine" json:"engine" yaml:"engine"`
	Hotkeys   HotkeysConfig   `toml:"hotkeys" json:"hotkeys" yaml:"hotkeys"`
	Script    ScriptConfig    `toml:"script" json:"script" yaml:"script"`
	Interface InterfaceConfig `toml:"interface" json:"interface" yaml:"interface"`
	Logging   LoggingConfig   `toml:"logging" json:"logging" yaml:"logging"`
	IPC       IPCConfig       `toml:"ipc" json:"ipc" yaml:"ipc"`

	mu sync.RWMutex
}

// PathsConfig locates the item tree and the runtime database.
type PathsConfig struct {
	// DataDir holds the database, crash reports and the default item tree.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// ItemsDir is the root of the folder/phrase/script tree on disk.
	ItemsDir string `toml:"items_dir" json:"items_dir" yaml:"items_dir"`

	// Database is the sqlite file backing script stores and the error log.
	Database string `toml:"database" json:"database" yaml:"database"`
}

// EngineConfig tunes the expansion engine.
type EngineConfig struct {
	// ServiceRunning starts monitoring immediately on launch.
	ServiceRunning bool `toml:"service_running" json:"service_running" yaml:"service_running"`

	// UndoUsingBackspace lets a backspace right after an expansion revert it.
	UndoUsingBackspace bool `toml:"undo_using_backspace" json:"undo_using_backspace" yaml:"undo_using_backspace"`

	// TriggerByInitial selects popup menu entries by their first letter.
	TriggerByInitial bool `toml:"trigger_by_initial" json:"trigger_by_initial" yaml:"trigger_by_initial"`

	// WorkaroundApps is a regex over window class names that get a slower
	// per-key send path.
	WorkaroundApps string `toml:"workaround_apps" json:"workaround_apps" yaml:"workaround_apps"`

	// DisabledModifiers are ignored by the modifier tracker.
	DisabledModifiers []string `toml:"disabled_modifiers" json:"disabled_modifiers" yaml:"disabled_modifiers"`

	// ClipboardRestoreMs is the wait before the clipboard is put back after
	// a paste.
	ClipboardRestoreMs int `toml:"clipboard_restore_ms" json:"clipboard_restore_ms" yaml:"clipboard_restore_ms"`

	// SelectionRestoreMs is the same for the primary selection.
	SelectionRestoreMs int `toml:"selection_restore_ms" json:"selection_restore_ms" yaml:"selection_restore_ms"`

	// SendKeyDelayMs is slept between keys for workaround applications.
	SendKeyDelayMs int `toml:"send_key_delay_ms" json:"send_key_delay_ms" yaml:"send_key_delay_ms"`

	// KeymapPollSec is how often the keyboard layout is checked for changes.
	// Zero disables polling.
	KeymapPollSec int `toml:"keymap_poll_sec" json:"keymap_poll_sec" yaml:"keymap_poll_sec"`
}

// HotkeysConfig holds the engine's own global hotkeys.
type HotkeysConfig struct {
	ShowMenu      HotkeySpec `toml:"show_menu" json:"show_menu" yaml:"show_menu"`
	ToggleService HotkeySpec `toml:"toggle_service" json:"toggle_service" yaml:"toggle_service"`
}

// HotkeySpec is a hotkey in "<super>+<shift>+k" notation.
type HotkeySpec struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Hotkey  string `toml:"hotkey" json:"hotkey" yaml:"hotkey"`
}

// ScriptConfig configures the script runner.
type ScriptConfig struct {
	// Globals seed the global script store on startup. Existing values are
	// left alone.
	Globals map[string]string `toml:"globals" json:"globals" yaml:"globals"`

	// ErrorRing bounds the number of remembered script errors.
	ErrorRing int `toml:"error_ring" json:"error_ring" yaml:"error_ring"`

	// GraceSec is how long running scripts get at shutdown.
	GraceSec int `toml:"grace_sec" json:"grace_sec" yaml:"grace_sec"`

	// NotifyErrors raises a desktop notification for each script error.
	NotifyErrors bool `toml:"notify_errors" json:"notify_errors" yaml:"notify_errors"`
}

// InterfaceConfig selects the desktop backend.
type InterfaceConfig struct {
	// Type is "auto", "x11" or "wayland".
	Type string `toml:"type" json:"type" yaml:"type"`

	// ProbeTTLMs bounds how stale cached window info may be.
	ProbeTTLMs int `toml:"probe_ttl_ms" json:"probe_ttl_ms" yaml:"probe_ttl_ms"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format (text, json).
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs are written (stdout, stderr, file, both).
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress enables compression of rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig configures the control socket.
type IPCConfig struct {
	// Enabled enables the control socket.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions for the socket file (octal).
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	data := DataDir()
	return &Config{
		Version: Version,
		Paths: PathsConfig{
			DataDir:  data,
			ItemsDir: filepath.Join(data, "data"),
			Database: filepath.Join(data, "autokeyd.db"),
		},
		Engine: EngineConfig{
			ServiceRunning:     true,
			UndoUsingBackspace: true,
			TriggerByInitial:   false,
			WorkaroundApps:     ".*VirtualBox.*|krdc.Krdc",
			DisabledModifiers:  []string{},
			ClipboardRestoreMs: 500,
			SelectionRestoreMs: 500,
			SendKeyDelayMs:     20,
			KeymapPollSec:      10,
		},
		Hotkeys: HotkeysConfig{
			ShowMenu:      HotkeySpec{Enabled: true, Hotkey: "<super>+k"},
			ToggleService: HotkeySpec{Enabled: true, Hotkey: "<super>+<shift>+k"},
		},
		Script: ScriptConfig{
			Globals:      map[string]string{},
			ErrorRing:    100,
			GraceSec:     5,
			NotifyErrors: true,
		},
		Interface: InterfaceConfig{
			Type:       "auto",
			ProbeTTLMs: 150,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(StateDir(), "autokeyd.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:     true,
			SocketPath:  DefaultSocketPath(),
			Permissions: "0600",
			TimeoutSec:  10,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := os.Getenv("AUTOKEYD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.ItemsDir,
		filepath.Dir(c.Paths.Database),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.IPC.SocketPath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with AUTOKEYD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("AUTOKEYD_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("AUTOKEYD_ITEMS_DIR"); v != "" {
		c.Paths.ItemsDir = v
	}
	if v := os.Getenv("AUTOKEYD_DATABASE"); v != "" {
		c.Paths.Database = v
	}

	if v := os.Getenv("AUTOKEYD_INTERFACE"); v != "" {
		c.Interface.Type = strings.ToLower(v)
	}
	if v, ok := envBool("AUTOKEYD_SERVICE_RUNNING"); ok {
		c.Engine.ServiceRunning = v
	}
	if v, ok := envBool("AUTOKEYD_UNDO_USING_BACKSPACE"); ok {
		c.Engine.UndoUsingBackspace = v
	}
	if v := os.Getenv("AUTOKEYD_WORKAROUND_APPS"); v != "" {
		c.Engine.WorkaroundApps = v
	}

	if v := os.Getenv("AUTOKEYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AUTOKEYD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AUTOKEYD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("AUTOKEYD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:   c.Version,
		Paths:     c.Paths,
		Engine:    c.Engine,
		Hotkeys:   c.Hotkeys,
		Script:    c.Script,
		Interface: c.Interface,
		Logging:   c.Logging,
		IPC:       c.IPC,
	}
	clone.Engine.DisabledModifiers = append([]string{}, c.Engine.DisabledModifiers...)
	clone.Script.Globals = make(map[string]string, len(c.Script.Globals))
	for k, v := range c.Script.Globals {
		clone.Script.Globals[k] = v
	}
	return clone
}

// ClipboardRestoreDelay is Engine.ClipboardRestoreMs as a duration.
func (c *Config) ClipboardRestoreDelay() time.Duration {
	return time.Duration(c.Engine.ClipboardRestoreMs) * time.Millisecond
}

// SelectionRestoreDelay is Engine.SelectionRestoreMs as a duration.
func (c *Config) SelectionRestoreDelay() time.Duration {
	return time.Duration(c.Engine.SelectionRestoreMs) * time.Millisecond
}

// SendKeyDelay is Engine.SendKeyDelayMs as a duration.
func (c *Config) SendKeyDelay() time.Duration {
	return time.Duration(c.Engine.SendKeyDelayMs) * time.Millisecond
}

// ScriptGrace is Script.GraceSec as a duration.
func (c *Config) ScriptGrace() time.Duration {
	return time.Duration(c.Script.GraceSec) * time.Second
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var b strings.Builder
	b.WriteString("# autokeyd configuration\n\n")
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return nil, fmt.Errorf("encode TOML: %w", err)
	}
	return []byte(b.String()), nil
}
