package matcher

import (
	"autokeyd/internal/keys"
	"autokeyd/internal/model"
	"autokeyd/internal/window"
)

// Match is the outcome of one lookup. Global is set when an engine hotkey
// matched; otherwise Items and Folders hold the candidates.
type Match struct {
	Global       *model.GlobalHotkey
	Items        []model.Item
	Folders      []*model.Folder
	MenuRequired bool
}

// Empty reports whether nothing matched.
func (m Match) Empty() bool {
	return m.Global == nil && len(m.Items) == 0 && len(m.Folders) == 0
}

// Fire returns the item to run directly, or nil when a menu is needed.
func (m Match) Fire() model.Item {
	if m.MenuRequired || len(m.Items) != 1 || len(m.Folders) != 0 {
		return nil
	}
	return m.Items[0]
}

func resolve(items []model.Item, folders []*model.Folder, buffer string) Match {
	m := Match{Items: items, Folders: folders}
	switch {
	case len(items) == 0 && len(folders) == 0:
	case len(folders) > 0 || len(items) > 1:
		m.MenuRequired = true
	case items[0].ShouldPrompt(buffer):
		m.MenuRequired = true
	}
	return m
}

// Hotkey looks up a pressed combination. Enabled engine hotkeys are tried
// first and match even while the service is paused; items and then hotkey
// folders are only considered when enabled is set.
func Hotkey(idx *model.Index, mods []keys.Key, key string, win window.Info, enabled bool) Match {
	var m Match
	idx.Read(func() {
		for _, g := range idx.GlobalHotkeys() {
			if g.Enabled && g.CheckHotkey(mods, key, win) {
				m = Match{Global: g}
				return
			}
		}
		if !enabled {
			return
		}
		for _, it := range idx.Hotkeys() {
			if it.Base().CheckHotkey(mods, key, win) {
				m = resolve([]model.Item{it}, nil, "")
				return
			}
		}
		for _, f := range idx.HotkeyFolders() {
			if f.CheckHotkey(mods, key, win) {
				m = resolve(nil, []*model.Folder{f}, "")
				return
			}
		}
	})
	return m
}

// Abbreviation searches for abbreviations triggered by buffer. An
// immediate-only pass runs first: a single non-prompting immediate match
// fires straight away. Otherwise every triggered item is collected, and
// folders are consulted only when no item matched.
func Abbreviation(idx *model.Index, buffer string, win window.Info) Match {
	var m Match
	idx.Read(func() {
		var immediate []model.Item
		for _, it := range idx.Abbreviations() {
			s := it.Base()
			if s.Abbr.Immediate && s.CheckInput(buffer, win) {
				immediate = append(immediate, it)
			}
		}
		if len(immediate) == 1 && !immediate[0].ShouldPrompt(buffer) {
			m = resolve(immediate, nil, buffer)
			return
		}

		var items []model.Item
		for _, it := range idx.Abbreviations() {
			if it.Base().CheckInput(buffer, win) {
				items = append(items, it)
			}
		}
		if len(items) > 0 {
			m = resolve(items, nil, buffer)
			return
		}
		var folders []*model.Folder
		for _, f := range idx.AllFolders() {
			if f.CheckInput(buffer, win) {
				folders = append(folders, f)
			}
		}
		m = resolve(nil, folders, buffer)
	})
	return m
}
