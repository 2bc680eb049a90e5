package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	if err := ValidateSchema(s.DB()); err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	status, err := GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion || len(status.Pending) != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestReopenKeepsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetValue("script-1", "count", 3); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	v, err := s.Value("script-1", "count")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != float64(3) {
		t.Fatalf("expected 3, got %#v", v)
	}
}

func TestScriptValues(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Value("a", "missing"); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
	if err := s.SetValue("a", "name", "first"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := s.SetValue("a", "name", "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.SetValue("b", "name", "other"); err != nil {
		t.Fatalf("SetValue b: %v", err)
	}

	v, err := s.Value("a", "name")
	if err != nil || v != "second" {
		t.Fatalf("expected second, got %#v (%v)", v, err)
	}
	ok, err := s.HasKey("a", "name")
	if err != nil || !ok {
		t.Fatalf("expected key present, got %v (%v)", ok, err)
	}

	if err := s.RemoveValue("a", "name"); err != nil {
		t.Fatalf("RemoveValue: %v", err)
	}
	if err := s.RemoveValue("a", "name"); err != nil {
		t.Fatalf("second RemoveValue: %v", err)
	}
	ok, _ = s.HasKey("a", "name")
	if ok {
		t.Fatal("key should be gone")
	}
	v, err = s.Value("b", "name")
	if err != nil || v != "other" {
		t.Fatalf("stores must be separate per script, got %#v (%v)", v, err)
	}

	if err := s.ClearScript("b"); err != nil {
		t.Fatalf("ClearScript: %v", err)
	}
	if ok, _ := s.HasKey("b", "name"); ok {
		t.Fatal("ClearScript left a value")
	}
}

func TestStructuredValues(t *testing.T) {
	s := openTestStore(t)
	in := map[string]any{"list": []any{"x", float64(2)}, "flag": true}
	if err := s.SetValue("a", "obj", in); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	v, err := s.Value("a", "obj")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["flag"] != true {
		t.Fatalf("flag lost: %#v", m)
	}
	if list, ok := m["list"].([]any); !ok || len(list) != 2 || list[0] != "x" {
		t.Fatalf("list lost: %#v", m["list"])
	}
}

func TestGlobalValues(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Global("g"); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
	if err := s.SetGlobal("g", "v"); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	if v, err := s.Global("g"); err != nil || v != "v" {
		t.Fatalf("Global: %#v (%v)", v, err)
	}
	if err := s.RemoveGlobal("g"); err != nil {
		t.Fatalf("RemoveGlobal: %v", err)
	}
	if _, err := s.Global("g"); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue after remove, got %v", err)
	}
}

func TestScriptErrorsTrimmed(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		e := &ScriptError{
			ScriptID:   "id",
			ScriptName: "script",
			Message:    string(rune('a' + i)),
			StartedAt:  base,
			FailedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if _, err := s.InsertScriptError(e, 3); err != nil {
			t.Fatalf("InsertScriptError: %v", err)
		}
		if e.ID == 0 {
			t.Fatal("ID not assigned")
		}
	}

	errs, err := s.ScriptErrors()
	if err != nil {
		t.Fatalf("ScriptErrors: %v", err)
	}
	if len(errs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(errs))
	}
	if errs[0].Message != "c" || errs[2].Message != "e" {
		t.Fatalf("expected newest three in order, got %q..%q", errs[0].Message, errs[2].Message)
	}
	if !errs[2].FailedAt.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("timestamp lost: %v", errs[2].FailedAt)
	}

	if err := s.ClearScriptErrors(); err != nil {
		t.Fatalf("ClearScriptErrors: %v", err)
	}
	if errs, _ := s.ScriptErrors(); len(errs) != 0 {
		t.Fatalf("expected empty log, got %d", len(errs))
	}
}

func TestExpansionStats(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordExpansion("item", 10); err != nil {
		t.Fatalf("RecordExpansion: %v", err)
	}
	if err := s.RecordExpansion("item", 5); err != nil {
		t.Fatalf("RecordExpansion: %v", err)
	}
	if err := s.RecordExpansion("other", 1); err != nil {
		t.Fatalf("RecordExpansion: %v", err)
	}

	st, err := s.Stats("item")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Expansions != 2 || st.CharsSaved != 15 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	total, err := s.TotalSaved()
	if err != nil || total != 16 {
		t.Fatalf("TotalSaved = %d (%v)", total, err)
	}
	empty, err := s.Stats("never")
	if err != nil || empty.Expansions != 0 {
		t.Fatalf("unused item: %+v (%v)", empty, err)
	}
}

func TestRollbackMigration(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if err := RollbackMigration(s.DB()); err != nil {
		t.Fatalf("RollbackMigration: %v", err)
	}
	if err := ValidateSchema(s.DB()); err == nil {
		t.Fatal("expected expansion_stats to be missing")
	}
	if err := MigrateDB(s.DB()); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}
	if err := ValidateSchema(s.DB()); err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
}
