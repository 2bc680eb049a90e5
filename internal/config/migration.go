package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	Backup      string    `json:"backup,omitempty"`
	Changes     []string  `json:"changes,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	At          time.Time `json:"at"`
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It automatically creates a backup before migration.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
		At:          time.Now(),
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 0, 1:
		changes, warnings = migrateV1ToV2(cfg)
		cfg.Version = 2
		return changes, warnings, nil
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}
}

// migrateV1ToV2 fills the sections version 2 introduced. Version 1 files
// decode with zero values there.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	def := DefaultConfig()

	if cfg.Engine.KeymapPollSec == 0 {
		cfg.Engine.KeymapPollSec = def.Engine.KeymapPollSec
		changes = append(changes, "set default engine.keymap_poll_sec")
	}
	if cfg.Interface.ProbeTTLMs == 0 {
		cfg.Interface.ProbeTTLMs = def.Interface.ProbeTTLMs
		changes = append(changes, "set default interface.probe_ttl_ms")
	}
	if cfg.Script.ErrorRing == 0 {
		cfg.Script.ErrorRing = def.Script.ErrorRing
		changes = append(changes, "set default script.error_ring")
	}
	if cfg.Script.GraceSec == 0 {
		cfg.Script.GraceSec = def.Script.GraceSec
		changes = append(changes, "set default script.grace_sec")
	}
	if cfg.Paths.Database == "" {
		cfg.Paths.Database = filepath.Join(cfg.Paths.DataDir, "autokeyd.db")
		changes = append(changes, "set default paths.database")
	}
	if cfg.Interface.Type == "xrecord" || cfg.Interface.Type == "xevdev" {
		warnings = append(warnings, fmt.Sprintf("interface.type %q replaced by x11", cfg.Interface.Type))
		cfg.Interface.Type = "x11"
	}

	return changes, warnings
}

func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := configPath + ".backup-" + timestamp

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// MigrateLegacyConfig converts the settings map of a classic autokey.json
// (camelCase keys) into a Config.
func MigrateLegacyConfig(data map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	settings := data
	if s, ok := data["settings"].(map[string]any); ok {
		settings = s
	}

	if v, ok := settings["serviceRunning"].(bool); ok {
		cfg.Engine.ServiceRunning = v
	}
	if v, ok := settings["undoUsingBackspace"].(bool); ok {
		cfg.Engine.UndoUsingBackspace = v
	}
	if v, ok := settings["triggerItemByInitial"].(bool); ok {
		cfg.Engine.TriggerByInitial = v
	}
	if v, ok := settings["workAroundApps"].(string); ok {
		cfg.Engine.WorkaroundApps = v
	}
	if mods, ok := settings["disabledModifiers"].([]any); ok {
		cfg.Engine.DisabledModifiers = cfg.Engine.DisabledModifiers[:0]
		for _, m := range mods {
			if s, ok := m.(string); ok {
				cfg.Engine.DisabledModifiers = append(cfg.Engine.DisabledModifiers, s)
			}
		}
	}
	if v, ok := settings["interfaceType"].(string); ok {
		switch v {
		case "XRecord", "XEvdev", "AT-SPI":
			cfg.Interface.Type = "x11"
		default:
			return nil, fmt.Errorf("%w: unknown interfaceType %q", ErrInvalidConfig, v)
		}
	}
	if globals, ok := settings["scriptGlobals"].(map[string]any); ok {
		for k, v := range globals {
			switch v := v.(type) {
			case string:
				cfg.Script.Globals[k] = v
			default:
				b, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("script global %q: %w", k, err)
				}
				cfg.Script.Globals[k] = string(b)
			}
		}
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = cfg.Encode()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func migrationHistoryPath(dataDir string) string {
	return filepath.Join(dataDir, "migration_history.json")
}

// GetMigrationHistory returns the migration history stored in dataDir.
func GetMigrationHistory(dataDir string) ([]MigrationResult, error) {
	data, err := os.ReadFile(migrationHistoryPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}

	return history, nil
}

// SaveMigrationHistory appends a migration result to the history file.
func SaveMigrationHistory(dataDir string, result *MigrationResult) error {
	history, err := GetMigrationHistory(dataDir)
	if err != nil {
		history = nil
	}
	history = append(history, *result)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(migrationHistoryPath(dataDir), data, 0600); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}

	return nil
}
