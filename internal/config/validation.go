package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"autokeyd/internal/keys"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Warning bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	return e.Warning
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrInvalidConfig) match.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && e.HasErrors()
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warnings alone do not make it fail; use Check to see them.
func ValidateConfig(c *Config) error {
	errs := Check(c)
	if errs.HasErrors() {
		return errs.Errors()
	}
	return nil
}

// Check returns every problem found, warnings included.
func Check(c *Config) ValidationErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}
	errs = append(errs, validatePaths(&c.Paths)...)
	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateHotkey("hotkeys.show_menu", c.Hotkeys.ShowMenu)...)
	errs = append(errs, validateHotkey("hotkeys.toggle_service", c.Hotkeys.ToggleService)...)
	if sm, ts := c.Hotkeys.ShowMenu, c.Hotkeys.ToggleService; sm.Enabled && ts.Enabled && sameHotkey(sm.Hotkey, ts.Hotkey) {
		errs = append(errs, ValidationError{
			Field:   "hotkeys.toggle_service",
			Message: "same hotkey as hotkeys.show_menu",
		})
	}
	errs = append(errs, validateScript(&c.Script)...)
	errs = append(errs, validateInterface(&c.Interface)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	return errs
}

func validatePaths(p *PathsConfig) ValidationErrors {
	var errs ValidationErrors

	if p.ItemsDir == "" {
		errs = append(errs, *RequiredFieldError("paths.items_dir"))
	} else if _, err := os.Stat(expandPath(p.ItemsDir)); os.IsNotExist(err) {
		errs = append(errs, ValidationError{
			Field:   "paths.items_dir",
			Message: "directory does not exist yet, it will be created",
			Warning: true,
		})
	}
	if p.Database == "" {
		errs = append(errs, *RequiredFieldError("paths.database"))
	}

	return errs
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.WorkaroundApps != "" {
		if _, err := regexp.Compile(e.WorkaroundApps); err != nil {
			errs = append(errs, ValidationError{
				Field:   "engine.workaround_apps",
				Message: fmt.Sprintf("invalid regex: %v", err),
			})
		}
	}

	for i, m := range e.DisabledModifiers {
		if !keys.IsModifier(keys.Normalize(m)) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("engine.disabled_modifiers[%d]", i),
				Message: fmt.Sprintf("unknown modifier %q", m),
			})
		}
	}

	delays := []struct {
		field string
		ms    int
	}{
		{"engine.clipboard_restore_ms", e.ClipboardRestoreMs},
		{"engine.selection_restore_ms", e.SelectionRestoreMs},
		{"engine.send_key_delay_ms", e.SendKeyDelayMs},
	}
	for _, d := range delays {
		if d.ms < 0 || d.ms > 10000 {
			errs = append(errs, *RangeError(d.field, 0, 10000))
		}
	}

	if e.KeymapPollSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.keymap_poll_sec",
			Message: "poll interval cannot be negative",
		})
	}

	return errs
}

func validateHotkey(field string, h HotkeySpec) ValidationErrors {
	if !h.Enabled {
		return nil
	}
	if h.Hotkey == "" {
		return ValidationErrors{*RequiredFieldError(field + ".hotkey")}
	}
	mods, _, ok := keys.ParseHotkey(h.Hotkey)
	if !ok {
		return ValidationErrors{{
			Field:   field + ".hotkey",
			Message: fmt.Sprintf("cannot parse %q (expected e.g. <super>+k)", h.Hotkey),
		}}
	}
	if len(mods) == 0 {
		return ValidationErrors{{
			Field:   field + ".hotkey",
			Message: "a global hotkey without modifiers would swallow the key",
			Warning: true,
		}}
	}
	return nil
}

func sameHotkey(a, b string) bool {
	am, ak, aok := keys.ParseHotkey(a)
	bm, bk, bok := keys.ParseHotkey(b)
	return aok && bok && ak == bk && keys.EqualModifiers(am, bm)
}

func validateScript(s *ScriptConfig) ValidationErrors {
	var errs ValidationErrors

	if s.ErrorRing < 1 {
		errs = append(errs, ValidationError{
			Field:   "script.error_ring",
			Message: "error ring must hold at least 1 entry",
		})
	}
	if s.GraceSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "script.grace_sec",
			Message: "grace period cannot be negative",
		})
	}
	for k := range s.Globals {
		if k == "" {
			errs = append(errs, ValidationError{
				Field:   "script.globals",
				Message: "global names cannot be empty",
			})
		}
	}

	return errs
}

func validateInterface(i *InterfaceConfig) ValidationErrors {
	var errs ValidationErrors

	switch i.Type {
	case "auto", "x11", "wayland":
	default:
		errs = append(errs, ValidationError{
			Field:   "interface.type",
			Message: fmt.Sprintf("invalid interface type: %s (valid: auto, x11, wayland)", i.Type),
		})
	}
	if i.ProbeTTLMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "interface.probe_ttl_ms",
			Message: "probe TTL cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}

	if i.Permissions != "" {
		if matched, _ := regexp.MatchString(`^0[0-7]{3}$`, i.Permissions); !matched {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
			})
		}
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
