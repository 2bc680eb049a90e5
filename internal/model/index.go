package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"autokeyd/internal/keys"
	"autokeyd/internal/window"
)

var (
	// ErrEmptyAbbreviation rejects "" as an abbreviation.
	ErrEmptyAbbreviation = errors.New("abbreviation must not be empty")

	// ErrInvalidHotkey rejects a hotkey without exactly one ordinary key.
	ErrInvalidHotkey = errors.New("hotkey needs exactly one non-modifier key")

	// ErrNotFound is returned by lookups.
	ErrNotFound = errors.New("not found")

	// ErrTemporaryParent rejects a non-temporary child in a temporary folder.
	ErrTemporaryParent = errors.New("children of a temporary folder must be temporary")
)

// ConflictError reports a trigger already used by another node in the same
// window-filter scope.
type ConflictError struct {
	Trigger string
	Item    Node
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is already used by %q", e.Trigger, e.Item.Name())
}

// GlobalHotkey is an engine-level hotkey such as "toggle service". It
// bypasses the enabled flag of the service.
type GlobalHotkey struct {
	Settings
	Title   string
	Enabled bool
	Action  func()
}

// NewGlobalHotkey builds an enabled global hotkey.
func NewGlobalHotkey(title string, mods []keys.Key, key string, action func()) (*GlobalHotkey, error) {
	g := &GlobalHotkey{Settings: newSettings(), Title: title, Enabled: true, Action: action}
	if err := g.SetHotkey(mods, key); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GlobalHotkey) Name() string { return g.Title }

// Check runs the action when the combination matches.
func (g *GlobalHotkey) Check(mods []keys.Key, key string, win window.Info) bool {
	if !g.Enabled || !g.CheckHotkey(mods, key, win) {
		return false
	}
	if g.Action != nil {
		g.Action()
	}
	return true
}

// Index owns the item tree and the lookup lists rebuilt from it. One
// coarse RWMutex covers both: mutation and trigger matching never overlap.
type Index struct {
	mu      sync.RWMutex
	folders []*Folder
	globals []*GlobalHotkey

	allFolders    []*Folder
	allItems      []Item
	hotkeys       []Item
	hotkeyFolders []*Folder
	abbreviations []Item

	// OnAltered is called after a rebuild with persist set when the change
	// should be written to disk.
	OnAltered func(persist bool)
	// OnHotkeyRemoved is called for each node whose hotkey disappears
	// through RemoveAllTemporary.
	OnHotkeyRemoved func(n Node)
}

// NewIndex returns an index over folders.
func NewIndex(folders ...*Folder) *Index {
	idx := &Index{folders: folders}
	idx.rebuild()
	return idx
}

// Read runs fn under the read lock.
func (x *Index) Read(fn func()) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	fn()
}

// Write runs fn under the write lock without rebuilding. Use it for usage
// counters and other changes that do not move triggers.
func (x *Index) Write(fn func()) {
	x.mu.Lock()
	defer x.mu.Unlock()
	fn()
}

// Update runs fn under the write lock, then rebuilds and reports the change.
func (x *Index) Update(fn func() error) error {
	x.mu.Lock()
	err := fn()
	x.rebuild()
	x.mu.Unlock()
	x.altered(true)
	return err
}

// ConfigAltered rebuilds the lookup lists after an outside change.
func (x *Index) ConfigAltered(persist bool) {
	x.mu.Lock()
	x.rebuild()
	x.mu.Unlock()
	x.altered(persist)
}

func (x *Index) altered(persist bool) {
	if x.OnAltered != nil {
		x.OnAltered(persist)
	}
}

// Replace swaps the whole tree, e.g. after reloading from disk.
func (x *Index) Replace(folders []*Folder) {
	x.mu.Lock()
	x.folders = folders
	x.rebuild()
	x.mu.Unlock()
	x.altered(false)
}

func (x *Index) rebuild() {
	x.allFolders, x.allItems = nil, nil
	x.hotkeys, x.hotkeyFolders, x.abbreviations = nil, nil, nil
	for _, f := range x.folders {
		f.parent = nil
		x.processFolder(f)
	}
}

func (x *Index) processFolder(f *Folder) {
	if f.HasMode(ModeHotkey) {
		x.hotkeyFolders = append(x.hotkeyFolders, f)
	}
	x.allFolders = append(x.allFolders, f)
	for _, c := range f.Folders {
		c.parent = f
		x.processFolder(c)
	}
	for _, it := range f.Items {
		it.Base().parent = f
		if it.Base().HasMode(ModeHotkey) {
			x.hotkeys = append(x.hotkeys, it)
		}
		if it.Base().HasMode(ModeAbbreviation) {
			x.abbreviations = append(x.abbreviations, it)
		}
		x.allItems = append(x.allItems, it)
	}
}

// SetGlobalHotkeys replaces the engine hotkeys.
func (x *Index) SetGlobalHotkeys(g ...*GlobalHotkey) {
	x.mu.Lock()
	x.globals = g
	x.mu.Unlock()
}

// The accessors below return the slices built by the last rebuild. Callers
// iterating them while the tree may change should hold Read.

func (x *Index) Folders() []*Folder             { return x.folders }
func (x *Index) AllFolders() []*Folder          { return x.allFolders }
func (x *Index) AllItems() []Item               { return x.allItems }
func (x *Index) Hotkeys() []Item                { return x.hotkeys }
func (x *Index) HotkeyFolders() []*Folder       { return x.hotkeyFolders }
func (x *Index) Abbreviations() []Item          { return x.abbreviations }
func (x *Index) GlobalHotkeys() []*GlobalHotkey { return x.globals }

// AddFolder adds a top-level folder.
func (x *Index) AddFolder(f *Folder) error {
	return x.Update(func() error {
		x.folders = append(x.folders, f)
		return nil
	})
}

// RemoveFolder drops a top-level folder.
func (x *Index) RemoveFolder(f *Folder) error {
	return x.Update(func() error {
		for i, g := range x.folders {
			if g == f {
				x.folders = append(x.folders[:i], x.folders[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

// CheckAbbreviationUnique reports whether abbr is free in the scope of
// filter for target. On conflict the other node is returned.
func (x *Index) CheckAbbreviationUnique(abbr string, filter *string, target Node) (bool, Node) {
	for _, n := range x.nodes() {
		s := n.Base()
		if s.HasMode(ModeAbbreviation) && s.Abbr.Has(abbr) && s.FilterMatches(filter) {
			return sameNode(n, target), n
		}
	}
	return true, nil
}

// CheckHotkeyUnique is CheckAbbreviationUnique for hotkeys. Enabled global
// hotkeys are checked first.
func (x *Index) CheckHotkeyUnique(mods []keys.Key, key string, filter *string, target Node) (bool, Node) {
	if n := x.ItemWithHotkey(mods, key, filter); n != nil {
		return sameNode(n, target), n
	}
	return true, nil
}

// ItemWithHotkey returns the first global hotkey, folder or item with the
// combination in the scope of filter.
func (x *Index) ItemWithHotkey(mods []keys.Key, key string, filter *string) Node {
	for _, g := range x.globals {
		if g.Enabled && g.Hotkey.Matches(mods, key) && g.FilterMatches(filter) {
			return g
		}
	}
	for _, n := range x.nodes() {
		s := n.Base()
		if s.HasMode(ModeHotkey) && s.Hotkey.Matches(mods, key) && s.FilterMatches(filter) {
			return n
		}
	}
	return nil
}

func sameNode(a, b Node) bool {
	return b != nil && a.Base() == b.Base()
}

func (x *Index) nodes() []Node {
	out := make([]Node, 0, len(x.allFolders)+len(x.allItems))
	for _, f := range x.allFolders {
		out = append(out, f)
	}
	for _, it := range x.allItems {
		out = append(out, it)
	}
	return out
}

// Validate checks every trigger of n against the rest of the tree.
func (x *Index) Validate(n Node) error {
	s := n.Base()
	var scope *string
	if p := s.ApplicablePattern(); p != "" {
		scope = &p
	}
	if s.HasMode(ModeAbbreviation) {
		if len(s.Abbr.Abbreviations) == 0 {
			return ErrEmptyAbbreviation
		}
		for _, a := range s.Abbr.Abbreviations {
			if a == "" {
				return ErrEmptyAbbreviation
			}
			if ok, other := x.CheckAbbreviationUnique(a, scope, n); !ok {
				return &ConflictError{Trigger: fmt.Sprintf("abbreviation %q", a), Item: other}
			}
		}
	}
	if s.HasMode(ModeHotkey) {
		if ok, other := x.CheckHotkeyUnique(s.Hotkey.Modifiers, s.Hotkey.Key, scope, n); !ok {
			return &ConflictError{Trigger: "hotkey " + s.Hotkey.String(), Item: other}
		}
	}
	if p := s.parent; p != nil && p.Temporary && !s.Temporary {
		return ErrTemporaryParent
	}
	return nil
}

// FolderByTitle finds a folder anywhere in the tree.
func (x *Index) FolderByTitle(title string) (*Folder, error) {
	for _, f := range x.allFolders {
		if f.Title == title {
			return f, nil
		}
	}
	return nil, fmt.Errorf("folder %q: %w", title, ErrNotFound)
}

// ItemByName finds a phrase or script by description.
func (x *Index) ItemByName(name string) (Item, error) {
	for _, it := range x.allItems {
		if it.Name() == name {
			return it, nil
		}
	}
	return nil, fmt.Errorf("item %q: %w", name, ErrNotFound)
}

// NodeByID finds a folder or item by ID.
func (x *Index) NodeByID(id string) (Node, error) {
	for _, n := range x.nodes() {
		if n.Base().ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("id %s: %w", id, ErrNotFound)
}

// RemoveAllTemporary drops temporary folders and items, and everything
// inside a temporary folder.
func (x *Index) RemoveAllTemporary() {
	var removed []Node
	x.mu.Lock()
	keep := x.folders[:0]
	for _, f := range x.folders {
		if f.Temporary {
			removed = collectHotkeys(f, removed)
			continue
		}
		removed = pruneTemporary(f, removed)
		keep = append(keep, f)
	}
	x.folders = keep
	x.rebuild()
	x.mu.Unlock()

	if x.OnHotkeyRemoved != nil {
		for _, n := range removed {
			x.OnHotkeyRemoved(n)
		}
	}
	x.altered(false)
}

func pruneTemporary(f *Folder, removed []Node) []Node {
	items := f.Items[:0]
	for _, it := range f.Items {
		if it.Base().Temporary {
			if it.Base().HasMode(ModeHotkey) {
				removed = append(removed, it)
			}
			continue
		}
		items = append(items, it)
	}
	f.Items = items

	folders := f.Folders[:0]
	for _, c := range f.Folders {
		if c.Temporary {
			removed = collectHotkeys(c, removed)
			continue
		}
		removed = pruneTemporary(c, removed)
		folders = append(folders, c)
	}
	f.Folders = folders
	return removed
}

func collectHotkeys(f *Folder, removed []Node) []Node {
	if f.HasMode(ModeHotkey) {
		removed = append(removed, f)
	}
	for _, it := range f.Items {
		if it.Base().HasMode(ModeHotkey) {
			removed = append(removed, it)
		}
	}
	for _, c := range f.Folders {
		removed = collectHotkeys(c, removed)
	}
	return removed
}

// SortByUsage orders items most used first, then by name.
func SortByUsage(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Base().UsageCount, items[j].Base().UsageCount
		if a != b {
			return a > b
		}
		return items[i].Name() < items[j].Name()
	})
}
