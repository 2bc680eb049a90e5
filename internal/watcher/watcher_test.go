package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"autokeyd/internal/logging"
)

func TestHashFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("test content for hashing")

	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	hash1, size1, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if size1 != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size1)
	}

	if err := os.WriteFile(testFile, []byte("different content"), 0600); err != nil {
		t.Fatalf("failed to modify test file: %v", err)
	}
	hash2, _, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("second HashFile failed: %v", err)
	}
	if hash1 == hash2 {
		t.Error("different content should produce different hash")
	}
}

func TestHashFileNotFound(t *testing.T) {
	if _, _, err := HashFile("/nonexistent/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestTreeDigest(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "My Phrases"), 0700); err != nil {
		t.Fatal(err)
	}
	phrase := filepath.Join(root, "My Phrases", "sig.txt")
	if err := os.WriteFile(phrase, []byte("Regards"), 0600); err != nil {
		t.Fatal(err)
	}

	d1, err := TreeDigest(root)
	if err != nil {
		t.Fatal(err)
	}

	// Editor droppings do not count.
	if err := os.WriteFile(phrase+".tmp", []byte("half"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(phrase+"~", []byte("backup"), 0600); err != nil {
		t.Fatal(err)
	}
	d2, _ := TreeDigest(root)
	if d1 != d2 {
		t.Error("temporary files changed the digest")
	}

	// A rename with identical content is still a change.
	if err := os.Rename(phrase, filepath.Join(root, "My Phrases", "sign.txt")); err != nil {
		t.Fatal(err)
	}
	d3, _ := TreeDigest(root)
	if d3 == d1 {
		t.Error("rename did not change the digest")
	}
}

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, 50*time.Millisecond, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func expectEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func expectQuiet(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(d):
	}
}

func TestWatcherReportsNewFolder(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	dir := filepath.Join(root, "Work")
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(100 * time.Millisecond)
	expectEvent(t, w)

	file := filepath.Join(dir, "addr.txt")
	if err := os.WriteFile(file, []byte("1 Main St"), 0600); err != nil {
		t.Fatal(err)
	}
	ev := expectEvent(t, w)
	found := false
	for _, p := range ev.Paths {
		if p == file {
			found = true
		}
	}
	if !found {
		t.Errorf("event paths %v missing %s", ev.Paths, file)
	}
}

func TestWatcherDebounce(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	testFile := filepath.Join(root, "debounce.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(testFile, []byte("v"+string(rune('0'+i))), 0600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	expectEvent(t, w)
	expectQuiet(t, w, 300*time.Millisecond)
}

func TestWatcherIgnoresIdenticalRewrite(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "same.txt")
	if err := os.WriteFile(file, []byte("same"), 0600); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root)

	if err := os.WriteFile(file, []byte("same"), 0600); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, w, 400*time.Millisecond)
	if w.Pending() != 0 {
		t.Errorf("pending = %d after quiet period", w.Pending())
	}
}

func TestWatcherSuspend(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	w.Suspend()
	if err := os.WriteFile(filepath.Join(root, "own.txt"), []byte("saved by us"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	w.Unsuspend()
	expectQuiet(t, w, 400*time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "theirs.txt"), []byte("edited by hand"), 0600); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, w)
}
