package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"", LevelInfo, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		got, err := ParseLevel(LevelString(l))
		if err != nil || got != l {
			t.Errorf("level %v did not survive LevelString/ParseLevel: %v %v", l, got, err)
		}
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.RedactPatterns = []string{"^abbr$"}
	l, err := NewWithWriter(cfg, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}

	l.Info("expanded", "buffer", "hunter2 ", "abbr", "adr", "phrase", "Address")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["buffer"] != "[REDACTED]" {
		t.Errorf("buffer not redacted: %v", entry["buffer"])
	}
	if entry["abbr"] != "[REDACTED]" {
		t.Errorf("extra pattern not applied: %v", entry["abbr"])
	}
	if entry["phrase"] != "Address" {
		t.Errorf("phrase was redacted: %v", entry["phrase"])
	}
	if entry["component"] != "autokeyd" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestBadRedactPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedactPatterns = []string{"("}
	if _, err := NewWithWriter(cfg, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Component = ""
	l, _ := NewWithWriter(cfg, &buf)
	l.WithComponent("mediator").Warn("queue stalled")
	if !strings.Contains(buf.String(), "component=mediator") {
		t.Errorf("component missing from %q", buf.String())
	}
}

func TestFileRotator(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.FilePath = filepath.Join(dir, "autokeyd.log")
	cfg.MaxSize = 1
	cfg.Compress = false
	cfg.MaxBackups = 2

	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	line := bytes.Repeat([]byte("x"), 512*1024)
	for i := 0; i < 3; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(cfg.FilePath); err != nil {
		t.Errorf("current log missing: %v", err)
	}
	if n := len(r.Backups()); n == 0 {
		t.Error("expected at least one rotated file")
	}
}

func TestWriteCrashReport(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteCrashReport(dir, "1.0.0", "mediator", "boom", map[string]any{"event": 3})
	if err != nil {
		t.Fatalf("WriteCrashReport: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report CrashReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.PanicValue != "boom" || report.Component != "mediator" {
		t.Errorf("unexpected report %+v", report)
	}
	if report.StackTrace == "" {
		t.Error("stack trace missing")
	}
}
