package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autokeyd/internal/logging"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))
	for _, name := range []string{
		"AUTOKEYD_CONFIG", "AUTOKEYD_DATA_DIR", "AUTOKEYD_ITEMS_DIR", "AUTOKEYD_DATABASE",
		"AUTOKEYD_INTERFACE", "AUTOKEYD_SERVICE_RUNNING", "AUTOKEYD_UNDO_USING_BACKSPACE",
		"AUTOKEYD_WORKAROUND_APPS", "AUTOKEYD_LOG_LEVEL", "AUTOKEYD_LOG_FORMAT",
		"AUTOKEYD_LOG_PATH", "AUTOKEYD_SOCKET_PATH",
	} {
		t.Setenv(name, "")
	}
	return dir
}

func TestDefaultConfig(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if want := filepath.Join(dir, "data", "autokeyd"); cfg.Paths.DataDir != want {
		t.Errorf("data dir = %s, want %s", cfg.Paths.DataDir, want)
	}
	if want := filepath.Join(dir, "run", "autokeyd", "autokeyd.sock"); cfg.IPC.SocketPath != want {
		t.Errorf("socket = %s, want %s", cfg.IPC.SocketPath, want)
	}
	if cfg.Hotkeys.ShowMenu.Hotkey != "<super>+k" {
		t.Errorf("show menu hotkey = %s", cfg.Hotkeys.ShowMenu.Hotkey)
	}
	if !cfg.Engine.UndoUsingBackspace || !cfg.Engine.ServiceRunning {
		t.Error("undo and service running should default on")
	}
}

func TestConfigPath(t *testing.T) {
	dir := isolate(t)
	if want := filepath.Join(dir, "config", "autokeyd", "config.toml"); ConfigPath() != want {
		t.Errorf("ConfigPath = %s, want %s", ConfigPath(), want)
	}
	t.Setenv("AUTOKEYD_CONFIG", "/etc/autokeyd.yaml")
	if ConfigPath() != "/etc/autokeyd.yaml" {
		t.Errorf("AUTOKEYD_CONFIG not honoured: %s", ConfigPath())
	}
}

func TestLoadNonexistent(t *testing.T) {
	isolate(t)
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.ClipboardRestoreMs != 500 {
		t.Errorf("expected defaults, got clipboard restore %d", cfg.Engine.ClipboardRestoreMs)
	}
}

func TestLoadFormats(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		content string
	}{
		{"config.toml", `
version = 2
[engine]
undo_using_backspace = false
disabled_modifiers = ["<capslock>"]
[hotkeys.show_menu]
enabled = true
hotkey = "<ctrl>+<alt>+m"
[script.globals]
greeting = "hi"
`},
		{"config.json", `{
  "version": 2,
  "engine": {"undo_using_backspace": false, "disabled_modifiers": ["<capslock>"]},
  "hotkeys": {"show_menu": {"enabled": true, "hotkey": "<ctrl>+<alt>+m"}},
  "script": {"globals": {"greeting": "hi"}}
}`},
		{"config.yaml", `
version: 2
engine:
  undo_using_backspace: false
  disabled_modifiers: ["<capslock>"]
hotkeys:
  show_menu:
    enabled: true
    hotkey: "<ctrl>+<alt>+m"
script:
  globals:
    greeting: hi
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Engine.UndoUsingBackspace {
				t.Error("undo_using_backspace not applied")
			}
			if len(cfg.Engine.DisabledModifiers) != 1 || cfg.Engine.DisabledModifiers[0] != "<capslock>" {
				t.Errorf("disabled modifiers = %v", cfg.Engine.DisabledModifiers)
			}
			if cfg.Hotkeys.ShowMenu.Hotkey != "<ctrl>+<alt>+m" {
				t.Errorf("hotkey = %s", cfg.Hotkeys.ShowMenu.Hotkey)
			}
			if cfg.Script.Globals["greeting"] != "hi" {
				t.Errorf("globals = %v", cfg.Script.Globals)
			}
			// Untouched sections keep their defaults.
			if cfg.Engine.SelectionRestoreMs != 500 || cfg.Hotkeys.ToggleService.Hotkey != "<super>+<shift>+k" {
				t.Error("partial file clobbered defaults")
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine\nundo = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestValidateRejects(t *testing.T) {
	isolate(t)
	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"engine.workaround_apps", func(c *Config) { c.Engine.WorkaroundApps = "([" }},
		{"engine.disabled_modifiers[0]", func(c *Config) { c.Engine.DisabledModifiers = []string{"<banana>"} }},
		{"engine.send_key_delay_ms", func(c *Config) { c.Engine.SendKeyDelayMs = -1 }},
		{"hotkeys.show_menu.hotkey", func(c *Config) { c.Hotkeys.ShowMenu.Hotkey = "<super>+" }},
		{"hotkeys.toggle_service", func(c *Config) { c.Hotkeys.ToggleService.Hotkey = "<super>+k" }},
		{"script.error_ring", func(c *Config) { c.Script.ErrorRing = 0 }},
		{"interface.type", func(c *Config) { c.Interface.Type = "atspi" }},
		{"logging.level", func(c *Config) { c.Logging.Level = "loud" }},
		{"ipc.permissions", func(c *Config) { c.IPC.Permissions = "777" }},
		{"version", func(c *Config) { c.Version = Version + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error does not match ErrInvalidConfig: %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error is %T, want ValidationErrors", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Hotkeys.ShowMenu.Hotkey = "<f12>"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings must not fail validation: %v", err)
	}
	warnings := Check(cfg).Warnings()
	if len(warnings) == 0 {
		t.Fatal("expected warnings")
	}
	fields := make([]string, 0, len(warnings))
	for _, w := range warnings {
		fields = append(fields, w.Field)
	}
	joined := strings.Join(fields, ",")
	if !strings.Contains(joined, "hotkeys.show_menu.hotkey") || !strings.Contains(joined, "paths.items_dir") {
		t.Errorf("warnings = %s", joined)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("AUTOKEYD_INTERFACE", "Wayland")
	t.Setenv("AUTOKEYD_UNDO_USING_BACKSPACE", "false")
	t.Setenv("AUTOKEYD_SERVICE_RUNNING", "not-a-bool")
	t.Setenv("AUTOKEYD_LOG_LEVEL", "debug")
	t.Setenv("AUTOKEYD_SOCKET_PATH", "/tmp/ak.sock")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Interface.Type != "wayland" {
		t.Errorf("interface = %s", cfg.Interface.Type)
	}
	if cfg.Engine.UndoUsingBackspace {
		t.Error("undo override ignored")
	}
	if !cfg.Engine.ServiceRunning {
		t.Error("unparsable bool must leave the value alone")
	}
	if cfg.Logging.Level != "debug" || cfg.IPC.SocketPath != "/tmp/ak.sock" {
		t.Errorf("logging/ipc overrides: %s %s", cfg.Logging.Level, cfg.IPC.SocketPath)
	}
}

func TestCloneIsDeep(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Engine.DisabledModifiers = []string{"<capslock>"}
	cfg.Script.Globals["a"] = "1"

	clone := cfg.Clone()
	clone.Engine.DisabledModifiers[0] = "<numlock>"
	clone.Script.Globals["a"] = "2"

	if cfg.Engine.DisabledModifiers[0] != "<capslock>" || cfg.Script.Globals["a"] != "1" {
		t.Error("clone shares state with original")
	}
	if d := Diff(cfg, cfg.Clone()); d != "" {
		t.Errorf("clone differs:\n%s", d)
	}
}

func TestSaveAndReload(t *testing.T) {
	isolate(t)
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Engine.WorkaroundApps = "Slow.App"
			cfg.Script.Globals["k"] = "v"
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("mode = %v", info.Mode().Perm())
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if d := Diff(cfg, loaded); d != "" {
				t.Errorf("saved config differs:\n%s", d)
			}
		})
	}
}

func TestMigrateV1(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	content := `
version = 1
[interface]
type = "xevdev"
[script]
error_ring = 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path, logging.Discard()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != Version || cfg.Interface.Type != "x11" || cfg.Script.ErrorRing != 100 {
		t.Errorf("not migrated: version=%d type=%s ring=%d", cfg.Version, cfg.Interface.Type, cfg.Script.ErrorRing)
	}

	backups, _ := filepath.Glob(path + ".backup-*")
	if len(backups) != 1 {
		t.Errorf("expected one backup, got %v", backups)
	}
	history, err := GetMigrationHistory(cfg.Paths.DataDir)
	if err != nil || len(history) != 1 || history[0].FromVersion != 1 {
		t.Errorf("history = %+v, err = %v", history, err)
	}
}

func TestMigrateLegacyConfig(t *testing.T) {
	isolate(t)
	var data map[string]any
	legacy := `{"settings": {
		"serviceRunning": false,
		"undoUsingBackspace": false,
		"triggerItemByInitial": true,
		"workAroundApps": ".*Citrix.*",
		"disabledModifiers": ["<numlock>"],
		"interfaceType": "XRecord",
		"scriptGlobals": {"name": "Ann", "count": 3}
	}}`
	if err := json.Unmarshal([]byte(legacy), &data); err != nil {
		t.Fatal(err)
	}

	cfg, err := MigrateLegacyConfig(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.ServiceRunning || cfg.Engine.UndoUsingBackspace || !cfg.Engine.TriggerByInitial {
		t.Errorf("engine flags = %+v", cfg.Engine)
	}
	if cfg.Engine.WorkaroundApps != ".*Citrix.*" || cfg.Interface.Type != "x11" {
		t.Errorf("workaround=%s interface=%s", cfg.Engine.WorkaroundApps, cfg.Interface.Type)
	}
	if cfg.Script.Globals["name"] != "Ann" || cfg.Script.Globals["count"] != "3" {
		t.Errorf("globals = %v", cfg.Script.Globals)
	}

	data["settings"].(map[string]any)["interfaceType"] = "Carrier pigeon"
	if _, err := MigrateLegacyConfig(data); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoaderReload(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("[engine]\nsend_key_delay_ms = 20\n")

	l := NewLoader(path, logging.Discard())
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	var calls int
	var gotOld, gotNew *Config
	l.OnChange(func(old, new *Config) {
		calls++
		gotOld, gotNew = old, new
	})

	// Unchanged content does not notify.
	if err := l.Reload(); err != nil || calls != 0 {
		t.Fatalf("reload of identical file: err=%v calls=%d", err, calls)
	}

	write("[engine]\nsend_key_delay_ms = 80\n")
	if err := l.Reload(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || gotOld.Engine.SendKeyDelayMs != 20 || gotNew.Engine.SendKeyDelayMs != 80 {
		t.Fatalf("calls=%d old=%v new=%v", calls, gotOld, gotNew)
	}
	if !strings.Contains(Diff(gotOld, gotNew), "SendKeyDelayMs") {
		t.Errorf("diff does not name the changed field:\n%s", Diff(gotOld, gotNew))
	}

	write("[engine]\nsend_key_delay_ms = -5\n")
	if err := l.Reload(); err == nil {
		t.Fatal("invalid file accepted")
	}
	if l.Config().Engine.SendKeyDelayMs != 80 {
		t.Error("invalid reload replaced the current config")
	}
}

func TestLoaderWatch(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\ntrigger_by_initial = false\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path, logging.Discard())
	l.debounce = 10 * time.Millisecond
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	changed := make(chan *Config, 4)
	l.OnChange(func(_, new *Config) { changed <- new })
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer l.Close()

	if err := os.WriteFile(path, []byte("[engine]\ntrigger_by_initial = true\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if !cfg.Engine.TriggerByInitial {
			t.Error("reloaded config missing change")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{cfg.Paths.ItemsDir, filepath.Join(dir, "state", "autokeyd"), filepath.Join(dir, "run", "autokeyd")} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", p, err)
		}
	}
}
