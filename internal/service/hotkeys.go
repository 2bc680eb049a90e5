package service

import (
	"fmt"

	"autokeyd/internal/config"
	"autokeyd/internal/keys"
	"autokeyd/internal/model"
)

// binding is a hotkey as it was when grabbed, so it can be released after
// the node's settings change.
type binding struct {
	mods []keys.Key
	key  string
}

func (b binding) HotkeyModifiers() []keys.Key { return b.mods }
func (b binding) HotkeyKey() string           { return b.key }

func (b binding) String() string { return keys.FormatHotkey(b.mods, b.key) }

func bindingOf(n model.Node) binding {
	h := n.Base().Hotkey
	return binding{mods: append([]keys.Key(nil), h.Modifiers...), key: h.Key}
}

// installGlobalHotkeys builds the engine hotkeys from cfg.
func (s *Service) installGlobalHotkeys(cfg *config.Config) error {
	var globals []*model.GlobalHotkey
	add := func(title string, spec config.HotkeySpec, action func()) error {
		if spec.Hotkey == "" {
			return nil
		}
		mods, key, ok := keys.ParseHotkey(spec.Hotkey)
		if !ok {
			return fmt.Errorf("hotkey %s: cannot parse %q", title, spec.Hotkey)
		}
		g, err := model.NewGlobalHotkey(title, mods, key, action)
		if err != nil {
			return fmt.Errorf("hotkey %s: %w", title, err)
		}
		g.Enabled = spec.Enabled
		globals = append(globals, g)
		return nil
	}
	if err := add("show_menu", cfg.Hotkeys.ShowMenu, s.showMainMenu); err != nil {
		return err
	}
	if err := add("toggle_service", cfg.Hotkeys.ToggleService, func() { s.Toggle() }); err != nil {
		return err
	}
	s.idx.SetGlobalHotkeys(globals...)
	return nil
}

// showMainMenu offers the folders and items marked for the tray, or every
// top-level folder when none are.
func (s *Service) showMainMenu() {
	var (
		folders []*model.Folder
		items   []model.Item
	)
	s.idx.Read(func() {
		for _, f := range s.idx.AllFolders() {
			if f.ShowInTray {
				folders = append(folders, f)
			}
		}
		for _, it := range s.idx.AllItems() {
			if it.Base().ShowInTray {
				items = append(items, it)
			}
		}
		if len(folders) == 0 && len(items) == 0 {
			folders = append(folders, s.idx.Folders()...)
		}
	})
	s.showMenu(MenuTitle, folders, items)
}

// HotkeyCreated grabs the hotkey of a node that just gained one.
func (s *Service) HotkeyCreated(n model.Node) {
	var b binding
	s.idx.Read(func() { b = bindingOf(n) })
	s.grabMu.Lock()
	defer s.grabMu.Unlock()
	s.grabLocked(n, b)
}

// HotkeyRemoved releases the grab held for n, if any.
func (s *Service) HotkeyRemoved(n model.Node) {
	s.grabMu.Lock()
	defer s.grabMu.Unlock()
	s.ungrabLocked(n)
}

func (s *Service) grabLocked(n model.Node, b binding) {
	if old, ok := s.grabs[n]; ok {
		if old.String() == b.String() {
			return
		}
		s.ungrabLocked(n)
	}
	if b.key == "" {
		return
	}
	if err := s.iface.GrabHotkey(b); err != nil {
		s.log.Warn("hotkey grab failed", "hotkey", b.String(), "item", n.Name(), "error", err)
		return
	}
	s.grabs[n] = b
	s.log.Debug("hotkey grabbed", "hotkey", b.String(), "item", n.Name())
}

func (s *Service) ungrabLocked(n model.Node) {
	b, ok := s.grabs[n]
	if !ok {
		return
	}
	s.iface.UngrabHotkey(b)
	delete(s.grabs, n)
}

// syncHotkeys makes the platform grabs match the index: item and folder
// hotkeys plus the enabled engine hotkeys.
func (s *Service) syncHotkeys() {
	want := make(map[model.Node]binding)
	s.idx.Read(func() {
		for _, it := range s.idx.Hotkeys() {
			want[it] = bindingOf(it)
		}
		for _, f := range s.idx.HotkeyFolders() {
			want[f] = bindingOf(f)
		}
		for _, g := range s.idx.GlobalHotkeys() {
			if g.Enabled {
				want[g] = bindingOf(g)
			}
		}
	})

	s.grabMu.Lock()
	defer s.grabMu.Unlock()
	for n := range s.grabs {
		if _, ok := want[n]; !ok {
			s.ungrabLocked(n)
		}
	}
	for n, b := range want {
		s.grabLocked(n, b)
	}
}

func (s *Service) ungrabAll() {
	s.grabMu.Lock()
	defer s.grabMu.Unlock()
	for n := range s.grabs {
		s.ungrabLocked(n)
	}
}
