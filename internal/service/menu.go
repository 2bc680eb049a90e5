package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"autokeyd/internal/dialog"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
)

// MenuTitle titles every popup. Keypresses in a window with this title are
// menu navigation and are not matched.
const MenuTitle = "autokeyd"

// Menu is a snapshot of folders and items to choose from. Folder entries
// open a submenu.
type Menu struct {
	Title   string
	Entries []MenuEntry
}

// MenuEntry is one line of a Menu; exactly one of Item and Sub is set.
type MenuEntry struct {
	Label string
	Item  model.Item
	Sub   *Menu
}

// UI shows popup menus.
type UI interface {
	// PopupMenu blocks until the user picks an item or dismisses the menu,
	// in which case it returns nil.
	PopupMenu(ctx context.Context, menu *Menu) (model.Item, error)
}

// showMenu pops up a menu of folders and items off the mediator goroutine
// and fires the selection.
func (s *Service) showMenu(title string, folders []*model.Folder, items []model.Item) {
	menu := s.buildMenu(title, folders, items)
	if len(menu.Entries) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		item, err := s.ui.PopupMenu(s.ctx, menu)
		if err != nil {
			s.log.Warn("popup menu failed", "error", err)
			return
		}
		if item == nil {
			s.stateMu.Lock()
			s.lastStack = ""
			s.stateMu.Unlock()
			return
		}
		s.ItemSelected(item)
	}()
}

// buildMenu snapshots the tree for a menu. Items are ordered by usage.
func (s *Service) buildMenu(title string, folders []*model.Folder, items []model.Item) *Menu {
	byInitial := s.Config().Engine.TriggerByInitial
	var menu *Menu
	s.idx.Read(func() {
		menu = snapshotMenu(title, folders, items, byInitial)
	})
	return menu
}

func snapshotMenu(title string, folders []*model.Folder, items []model.Item, byInitial bool) *Menu {
	m := &Menu{Title: title}
	for _, f := range folders {
		sub := snapshotMenu(f.Title, f.Folders, f.Items, byInitial)
		m.Entries = append(m.Entries, MenuEntry{Label: f.Title + "/", Sub: sub})
	}
	sorted := append([]model.Item(nil), items...)
	model.SortByUsage(sorted)
	for _, it := range sorted {
		m.Entries = append(m.Entries, MenuEntry{Label: it.Name(), Item: it})
	}
	if byInitial {
		labelByInitial(m.Entries)
	}
	return m
}

// labelByInitial prefixes each entry with its first letter, or a digit when
// that letter is taken, so entries can be picked by typing one key.
func labelByInitial(entries []MenuEntry) {
	used := make(map[rune]bool)
	next := '1'
	for i := range entries {
		var key rune
		for _, r := range strings.ToLower(entries[i].Label) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				key = r
				break
			}
		}
		if key == 0 || used[key] {
			for used[next] && next <= '9' {
				next++
			}
			if next > '9' {
				continue
			}
			key = next
		}
		used[key] = true
		entries[i].Label = fmt.Sprintf("%c) %s", key, entries[i].Label)
	}
}

// DialogMenu shows menus with zenity or kdialog list dialogs.
type DialogMenu struct {
	Dialogs *dialog.Dialogs
	Log     *logging.Logger
}

func (d *DialogMenu) PopupMenu(ctx context.Context, menu *Menu) (model.Item, error) {
	for menu != nil {
		labels := make([]string, len(menu.Entries))
		for i, e := range menu.Entries {
			labels[i] = e.Label
		}
		initial := ""
		if len(labels) > 0 {
			initial = labels[0]
		}
		res, err := d.Dialogs.ListMenu(ctx, MenuTitle, menu.Title, labels, initial, false)
		if err != nil {
			return nil, err
		}
		if !res.OK() {
			return nil, nil
		}
		var next *Menu
		for _, e := range menu.Entries {
			if e.Label != res.Text {
				continue
			}
			if e.Item != nil {
				return e.Item, nil
			}
			next = e.Sub
			break
		}
		menu = next
	}
	return nil, nil
}

// LogMenu is used when no dialog toolkit is available. It picks nothing and
// logs what would have been offered.
type LogMenu struct {
	Log *logging.Logger
}

func (l LogMenu) PopupMenu(_ context.Context, menu *Menu) (model.Item, error) {
	labels := make([]string, len(menu.Entries))
	for i, e := range menu.Entries {
		labels[i] = e.Label
	}
	l.Log.Info("menu requested but no dialog toolkit is available", "title", menu.Title, "entries", labels)
	return nil, nil
}
