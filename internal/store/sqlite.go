package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoValue is returned when a key is absent.
var ErrNoValue = errors.New("no value for key")

// Store represents the SQLite state database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a private in-memory database.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection of :memory: is a separate database.
	db.SetMaxOpenConns(1)
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the connection for migration tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Values are stored as JSON so scripts get back the type they put in.

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(data), nil
}

func decode(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// SetValue stores v under key in the store of script scriptID.
func (s *Store) SetValue(scriptID, key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO script_values (script_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(script_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scriptID, key, raw, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set value %q: %w", key, err)
	}
	return nil
}

// Value returns the value under key, or ErrNoValue.
func (s *Store) Value(scriptID, key string) (any, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM script_values WHERE script_id = ? AND key = ?", scriptID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoValue
	}
	if err != nil {
		return nil, fmt.Errorf("get value %q: %w", key, err)
	}
	return decode(raw)
}

// RemoveValue deletes key. Removing an absent key is not an error.
func (s *Store) RemoveValue(scriptID, key string) error {
	if _, err := s.db.Exec("DELETE FROM script_values WHERE script_id = ? AND key = ?", scriptID, key); err != nil {
		return fmt.Errorf("remove value %q: %w", key, err)
	}
	return nil
}

// HasKey reports whether key is set for the script.
func (s *Store) HasKey(scriptID, key string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM script_values WHERE script_id = ? AND key = ?", scriptID, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has key %q: %w", key, err)
	}
	return n > 0, nil
}

// ClearScript drops every value of a script, e.g. when it is deleted.
func (s *Store) ClearScript(scriptID string) error {
	if _, err := s.db.Exec("DELETE FROM script_values WHERE script_id = ?", scriptID); err != nil {
		return fmt.Errorf("clear script store: %w", err)
	}
	return nil
}

// SetGlobal stores v under key in the store shared by all scripts.
func (s *Store) SetGlobal(key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO global_values (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, raw, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set global %q: %w", key, err)
	}
	return nil
}

// Global returns a shared value, or ErrNoValue.
func (s *Store) Global(key string) (any, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM global_values WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoValue
	}
	if err != nil {
		return nil, fmt.Errorf("get global %q: %w", key, err)
	}
	return decode(raw)
}

// RemoveGlobal deletes a shared value.
func (s *Store) RemoveGlobal(key string) error {
	if _, err := s.db.Exec("DELETE FROM global_values WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove global %q: %w", key, err)
	}
	return nil
}

// InsertScriptError records a failure and trims the log to keep entries.
func (s *Store) InsertScriptError(e *ScriptError, keep int) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO script_errors (script_id, script_name, message, traceback, started_ns, failed_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ScriptID, e.ScriptName, e.Message, e.Traceback, e.StartedAt.UnixNano(), e.FailedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert script error: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	if keep > 0 {
		if _, err := tx.Exec(`
			DELETE FROM script_errors WHERE id NOT IN (
				SELECT id FROM script_errors ORDER BY id DESC LIMIT ?)`, keep); err != nil {
			return 0, fmt.Errorf("trim script errors: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	e.ID = id
	return id, nil
}

// ScriptErrors returns the logged failures, oldest first.
func (s *Store) ScriptErrors() ([]ScriptError, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(script_id, ''), script_name, message, COALESCE(traceback, ''), started_ns, failed_ns
		FROM script_errors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query script errors: %w", err)
	}
	defer rows.Close()

	var out []ScriptError
	for rows.Next() {
		var (
			e                 ScriptError
			started, failedAt int64
		)
		if err := rows.Scan(&e.ID, &e.ScriptID, &e.ScriptName, &e.Message, &e.Traceback, &started, &failedAt); err != nil {
			return nil, fmt.Errorf("scan script error: %w", err)
		}
		e.StartedAt = time.Unix(0, started)
		e.FailedAt = time.Unix(0, failedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearScriptErrors empties the error log.
func (s *Store) ClearScriptErrors() error {
	if _, err := s.db.Exec("DELETE FROM script_errors"); err != nil {
		return fmt.Errorf("clear script errors: %w", err)
	}
	return nil
}

// RecordExpansion adds one use of itemID that saved saved characters.
func (s *Store) RecordExpansion(itemID string, saved int) error {
	_, err := s.db.Exec(`
		INSERT INTO expansion_stats (item_id, expansions, chars_saved, last_used_ns) VALUES (?, 1, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			expansions = expansions + 1,
			chars_saved = chars_saved + excluded.chars_saved,
			last_used_ns = excluded.last_used_ns`,
		itemID, saved, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("record expansion: %w", err)
	}
	return nil
}

// TotalSaved is the characters saved over all items.
func (s *Store) TotalSaved() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(chars_saved), 0) FROM expansion_stats").Scan(&n); err != nil {
		return 0, fmt.Errorf("total saved: %w", err)
	}
	return n, nil
}

// Stats returns the counters of one item.
func (s *Store) Stats(itemID string) (*ItemStats, error) {
	st := &ItemStats{ItemID: itemID}
	var last int64
	err := s.db.QueryRow("SELECT expansions, chars_saved, last_used_ns FROM expansion_stats WHERE item_id = ?", itemID).
		Scan(&st.Expansions, &st.CharsSaved, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", itemID, err)
	}
	st.LastUsed = time.Unix(0, last)
	return st, nil
}
