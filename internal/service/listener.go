package service

import (
	"context"
	"time"

	"autokeyd/internal/keys"
	"autokeyd/internal/matcher"
	"autokeyd/internal/model"
	"autokeyd/internal/platform"
	"autokeyd/internal/window"
)

// HandleKeypress is called on the mediator goroutine for every hardware
// keypress. A key that fires a hotkey never reaches the abbreviation pass.
func (s *Service) HandleKeypress(rawKey string, mods []keys.Key, key string, win window.Info) {
	if win.Title == MenuTitle {
		return
	}
	mods = s.stripDisabled(mods)

	m := matcher.Hotkey(s.idx, mods, rawKey, win, s.running.Load())
	if m.Global != nil {
		s.buffer.Clear()
		if m.Global.Action != nil {
			s.log.Debug("engine hotkey", "hotkey", m.Global.Title)
			m.Global.Action()
		}
		return
	}
	if !s.running.Load() {
		return
	}
	if !m.Empty() {
		s.buffer.Clear()
		s.fire(m, "", win)
		return
	}

	switch s.buffer.Apply(matcher.Classify(mods, key), key) {
	case matcher.EditBackspace:
		s.backspace()
		return
	case matcher.EditReset:
		s.phrases.ClearLast()
		return
	case matcher.EditClear:
		return
	}
	s.phrases.ClearLast()

	buffer := s.buffer.String()
	m = matcher.Abbreviation(s.idx, buffer, win)
	if m.Empty() {
		return
	}
	s.fire(m, buffer, win)
}

// backspace runs after Apply already popped the buffer. When undo is on and
// an expansion record is held, the expansion is reverted instead.
func (s *Service) backspace() {
	if !s.Config().Engine.UndoUsingBackspace || !s.phrases.CanUndo() {
		return
	}
	s.buffer.Clear()
	if _, err := s.phrases.Undo(); err != nil {
		s.log.Warn("undo failed", "error", err)
	}
}

// HandleMouseClick forgets typed context: after a click the caret may be
// anywhere.
func (s *Service) HandleMouseClick(click platform.Click) {
	s.buffer.Clear()
	s.phrases.ClearLast()
	s.stateMu.Lock()
	s.lastStack = ""
	s.stateMu.Unlock()
}

func (s *Service) fire(m matcher.Match, buffer string, win window.Info) {
	if item := m.Fire(); item != nil {
		s.processItem(item, buffer, win)
		return
	}
	s.stateMu.Lock()
	s.lastStack = buffer
	s.stateMu.Unlock()
	s.showMenu(MenuTitle, m.Folders, m.Items)
}

// ItemSelected runs an item picked from a popup menu. If the menu came from
// an abbreviation, the text typed for it is erased as if it had fired
// directly.
func (s *Service) ItemSelected(item model.Item) {
	if s.settle > 0 {
		time.Sleep(s.settle)
	}
	s.stateMu.Lock()
	buffer := s.lastStack
	s.lastStack = ""
	s.stateMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	win := s.iface.WindowInfo(ctx)
	cancel()
	s.processItem(item, buffer, win)
}

// processItem fires item for buffer. Phrases are sent before returning;
// scripts run on their own goroutine.
func (s *Service) processItem(item model.Item, buffer string, win window.Info) {
	s.buffer.Clear()
	s.stateMu.Lock()
	s.lastStack = ""
	s.stateMu.Unlock()

	switch v := item.(type) {
	case *model.Phrase:
		exp := s.phrases.Build(s.ctx, v, buffer)
		if err := s.phrases.Send(v, exp, buffer, win); err != nil {
			return
		}
		s.recordSaved(v, exp)
	case *model.Script:
		s.scripts.Execute(v, buffer)
	default:
		s.log.Warn("unknown item type", "item", item.Name())
	}
}

// recordSaved credits the phrase with the keystrokes it saved.
func (s *Service) recordSaved(p *model.Phrase, exp model.Expansion) {
	if s.deps.Store == nil {
		return
	}
	saved := keys.PrintableLength(exp.String) - exp.Backspaces
	if saved < 0 {
		saved = 0
	}
	var id string
	s.idx.Read(func() { id = p.ID })
	if err := s.deps.Store.RecordExpansion(id, saved); err != nil {
		s.log.Debug("record expansion stats", "error", err)
	}
}

func (s *Service) stripDisabled(mods []keys.Key) []keys.Key {
	disabled := s.Config().Engine.DisabledModifiers
	if len(disabled) == 0 || len(mods) == 0 {
		return mods
	}
	out := make([]keys.Key, 0, len(mods))
	for _, m := range mods {
		skip := false
		for _, d := range disabled {
			if keys.Normalize(d) == string(m) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, m)
		}
	}
	return out
}
