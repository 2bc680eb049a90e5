package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/config"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
	"autokeyd/internal/window"
)

func TestSampleFolderRoundTrips(t *testing.T) {
	dir := t.TempDir()
	f, err := sampleFolder()
	require.NoError(t, err)
	require.NoError(t, model.SaveFolder(f, dir))

	folders, err := model.LoadTree(dir)
	require.NoError(t, err)
	require.Len(t, folders, 1)

	idx := model.NewIndex(folders...)
	idx.Read(func() {
		assert.Len(t, idx.AllItems(), 3)
		assert.Len(t, idx.Abbreviations(), 2)
		assert.Len(t, idx.Hotkeys(), 1)
		for _, it := range idx.AllItems() {
			assert.Zero(t, reportConflicts(idx, it), it.Name())
		}
	})
}

func TestReportConflicts(t *testing.T) {
	a := model.NewPhrase("a", "A")
	require.NoError(t, a.AddAbbreviation("dup"))
	b := model.NewPhrase("b", "B")
	require.NoError(t, b.AddAbbreviation("dup"))
	f := model.NewFolder("f")
	f.AddItem(a)
	f.AddItem(b)

	idx := model.NewIndex(f)
	idx.Read(func() {
		assert.Equal(t, 1, reportConflicts(idx, b))
	})
}

func TestInitWritesConfigAndSamples(t *testing.T) {
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, newApp().Run([]string{"autokeyd", "--config", path, "init"}))
	require.FileExists(t, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	folders, err := model.LoadTree(cfg.Paths.ItemsDir)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "My Phrases", folders[0].Title)

	err = newApp().Run([]string{"autokeyd", "--config", path, "init"})
	assert.ErrorContains(t, err, "already exists")
}

func TestImportLegacy(t *testing.T) {
	legacy := filepath.Join(t.TempDir(), "autokey.json")
	data, err := json.Marshal(map[string]any{
		"settings": map[string]any{
			"undoUsingBackspace": false,
			"workAroundApps":     ".*Citrix.*",
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(legacy, data, 0600))
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, newApp().Run([]string{"autokeyd", "--config", path, "import-legacy", legacy}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Engine.UndoUsingBackspace)
	assert.Equal(t, ".*Citrix.*", cfg.Engine.WorkaroundApps)
}

func TestNewLogger(t *testing.T) {
	lc := config.DefaultConfig().Logging
	log, err := newLogger(lc, true)
	require.NoError(t, err)
	assert.True(t, log.Enabled(t.Context(), logging.LevelDebug))

	lc.Level = "loud"
	_, err = newLogger(lc, false)
	assert.Error(t, err)
}

func TestDisplayServer(t *testing.T) {
	assert.Equal(t, window.X11, displayServer("x11"))
	assert.Equal(t, window.Wayland, displayServer("wayland"))
	assert.Equal(t, window.DisplayServer(""), displayServer("auto"))
}
