// Package model is the item tree: folders holding phrases and scripts, with
// the abbreviation, hotkey and window-filter settings that decide when each
// one fires.
package model

import (
	"crypto/rand"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"autokeyd/internal/keys"
	"autokeyd/internal/window"
)

// NewID returns a fresh item ID.
func NewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Settings are the trigger settings and bookkeeping shared by folders,
// phrases and scripts.
type Settings struct {
	ID         string
	Modes      []TriggerMode
	Abbr       Abbreviation
	Hotkey     Hotkey
	Filter     WindowFilter
	UsageCount int
	ShowInTray bool
	Temporary  bool

	parent *Folder
}

func newSettings() Settings {
	return Settings{ID: NewID(), Abbr: NewAbbreviation()}
}

// Base gives access to the settings of any node.
func (s *Settings) Base() *Settings { return s }

// Parent returns the owning folder, nil for top-level folders.
func (s *Settings) Parent() *Folder { return s.parent }

// HasMode reports whether m is enabled.
func (s *Settings) HasMode(m TriggerMode) bool {
	for _, x := range s.Modes {
		if x == m {
			return true
		}
	}
	return false
}

func (s *Settings) addMode(m TriggerMode) {
	if !s.HasMode(m) {
		s.Modes = append(s.Modes, m)
	}
}

func (s *Settings) removeMode(m TriggerMode) {
	out := s.Modes[:0]
	for _, x := range s.Modes {
		if x != m {
			out = append(out, x)
		}
	}
	s.Modes = out
}

// AddAbbreviation appends abbr and enables abbreviation mode.
func (s *Settings) AddAbbreviation(abbr ...string) error {
	for _, a := range abbr {
		if a == "" {
			return ErrEmptyAbbreviation
		}
	}
	s.Abbr.Abbreviations = append(s.Abbr.Abbreviations, abbr...)
	s.addMode(ModeAbbreviation)
	return nil
}

// ClearAbbreviations removes every abbreviation and the mode.
func (s *Settings) ClearAbbreviations() {
	s.Abbr.Abbreviations = nil
	s.removeMode(ModeAbbreviation)
}

// SetHotkey sets the hotkey and enables hotkey mode. Modifiers are sorted.
func (s *Settings) SetHotkey(mods []keys.Key, key string) error {
	if key == "" {
		return ErrInvalidHotkey
	}
	if keys.IsModifier(key) {
		return ErrInvalidHotkey
	}
	for _, m := range mods {
		if !keys.IsModifier(string(m)) {
			return ErrInvalidHotkey
		}
	}
	s.Hotkey = Hotkey{Modifiers: keys.SortModifiers(mods), Key: keys.Normalize(key)}
	s.addMode(ModeHotkey)
	return nil
}

// UnsetHotkey clears the hotkey and the mode.
func (s *Settings) UnsetHotkey() {
	s.Hotkey = Hotkey{}
	s.removeMode(ModeHotkey)
}

// HotkeyModifiers and HotkeyKey expose the hotkey to the platform grabber.
func (s *Settings) HotkeyModifiers() []keys.Key { return s.Hotkey.Modifiers }
func (s *Settings) HotkeyKey() string           { return s.Hotkey.Key }

// SetWindowFilter compiles and sets the filter.
func (s *Settings) SetWindowFilter(pattern string, recursive bool) error {
	f, err := NewWindowFilter(pattern, recursive)
	if err != nil {
		return err
	}
	s.Filter = f
	return nil
}

// ApplicableRegex returns the filter in force: the node's own, or the
// nearest ancestor's recursive one. forChild asks on behalf of a child, for
// which a non-recursive filter does not apply.
func (s *Settings) ApplicableRegex(forChild bool) *regexp.Regexp {
	if s.Filter.IsSet() {
		if !forChild || s.Filter.Recursive {
			return s.Filter.re
		}
		return nil
	}
	if s.parent != nil {
		return s.parent.ApplicableRegex(true)
	}
	return nil
}

// ApplicablePattern is ApplicableRegex as the configured text, "" for none.
func (s *Settings) ApplicablePattern() string {
	if s.Filter.IsSet() {
		return s.Filter.pattern
	}
	for p := s.parent; p != nil; p = p.parent {
		if p.Filter.IsSet() {
			if p.Filter.Recursive {
				return p.Filter.pattern
			}
			return ""
		}
	}
	return ""
}

// InheritsFilter reports whether an ancestor's filter applies.
func (s *Settings) InheritsFilter() bool {
	return s.parent != nil && s.parent.ApplicableRegex(true) != nil
}

// ShouldTriggerWindow applies the window filter to win, title first then
// class. No filter matches every window.
func (s *Settings) ShouldTriggerWindow(win window.Info) bool {
	re := s.ApplicableRegex(false)
	if re == nil {
		return true
	}
	return re.MatchString(win.Title) || re.MatchString(win.Class)
}

// FilterMatches reports whether the node lives in the filter scope named by
// pattern. A nil pattern or an unfiltered node share every scope.
func (s *Settings) FilterMatches(pattern *string) bool {
	own := s.ApplicablePattern()
	if pattern == nil || own == "" {
		return true
	}
	return *pattern == own
}

// CheckInput reports whether an abbreviation triggers on buffer in win.
func (s *Settings) CheckInput(buffer string, win window.Info) bool {
	return s.HasMode(ModeAbbreviation) && s.Abbr.Triggers(buffer) && s.ShouldTriggerWindow(win)
}

// CheckHotkey reports whether the hotkey matches in win.
func (s *Settings) CheckHotkey(mods []keys.Key, key string, win window.Info) bool {
	return s.HasMode(ModeHotkey) && s.Hotkey.Matches(mods, key) && s.ShouldTriggerWindow(win)
}

// partitionTrigger partitions buffer around the abbreviation that fired.
func (s *Settings) partitionTrigger(buffer string) (before, match, after, abbr string, ok bool) {
	if !s.HasMode(ModeAbbreviation) {
		return "", "", "", "", false
	}
	abbr, ok = s.Abbr.TriggerAbbreviation(buffer)
	if !ok {
		return "", "", "", "", false
	}
	before, match, after = s.Abbr.Partition(abbr, buffer)
	return before, match, after, abbr, true
}

// IncrementUsage bumps the usage count here and on every ancestor.
func (s *Settings) IncrementUsage() {
	s.UsageCount++
	if s.parent != nil {
		s.parent.IncrementUsage()
	}
}

func runeLen(s string) int { return len([]rune(s)) }

// Node is a Folder or an Item.
type Node interface {
	Base() *Settings
	Name() string
}

// Item is a Phrase or a Script.
type Item interface {
	Node
	// ShouldPrompt reports whether firing needs a confirmation menu.
	ShouldPrompt(buffer string) bool
}

// Folder groups items and subfolders.
type Folder struct {
	Settings
	Title   string
	Folders []*Folder
	Items   []Item
	Path    string
}

// NewFolder returns an empty folder.
func NewFolder(title string) *Folder {
	return &Folder{Settings: newSettings(), Title: title}
}

func (f *Folder) Name() string { return f.Title }

// AddFolder adopts child.
func (f *Folder) AddFolder(child *Folder) {
	child.parent = f
	f.Folders = append(f.Folders, child)
}

// RemoveFolder detaches child.
func (f *Folder) RemoveFolder(child *Folder) {
	for i, x := range f.Folders {
		if x == child {
			f.Folders = append(f.Folders[:i], f.Folders[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// AddItem adopts item.
func (f *Folder) AddItem(item Item) {
	item.Base().parent = f
	f.Items = append(f.Items, item)
}

// RemoveItem detaches item.
func (f *Folder) RemoveItem(item Item) {
	for i, x := range f.Items {
		if x == item {
			f.Items = append(f.Items[:i], f.Items[i+1:]...)
			item.Base().parent = nil
			return
		}
	}
}

// BackspaceCount is how many characters to erase when a child of f is
// fired by something other than its own abbreviation: the folder's
// triggering abbreviation plus trailing text, or the nearest ancestor's.
func (f *Folder) BackspaceCount(buffer string) int {
	if f.Abbr.Backspace {
		if _, _, after, abbr, ok := f.partitionTrigger(buffer); ok {
			return runeLen(abbr) + runeLen(after)
		}
	}
	if f.parent != nil {
		return f.parent.BackspaceCount(buffer)
	}
	return 0
}

// CalculateInput is how many keystrokes triggered the folder.
func (f *Folder) CalculateInput(buffer string) int {
	if f.Abbr.Backspace {
		if _, _, _, abbr, ok := f.partitionTrigger(buffer); ok {
			if f.Abbr.Immediate {
				return runeLen(abbr)
			}
			return runeLen(abbr) + 1
		}
	}
	if f.parent != nil {
		return f.parent.CalculateInput(buffer)
	}
	return 0
}

// Walk visits f and every descendant folder depth first.
func (f *Folder) Walk(fn func(*Folder)) {
	fn(f)
	for _, c := range f.Folders {
		c.Walk(fn)
	}
}

// SendMode selects how a phrase is delivered. Clipboard modes are the paste
// combination itself.
type SendMode string

const (
	SendKeyboard      SendMode = "kb"
	SendCtrlV         SendMode = "<ctrl>+v"
	SendCtrlShiftV    SendMode = "<ctrl>+<shift>+v"
	SendShiftInsert   SendMode = "<shift>+<insert>"
	SendSelection     SendMode = "selection"
	defaultPhraseSend          = SendKeyboard
)

// Valid reports whether m is a known mode.
func (m SendMode) Valid() bool {
	switch m {
	case SendKeyboard, SendCtrlV, SendCtrlShiftV, SendShiftInsert, SendSelection:
		return true
	}
	return false
}

// Expansion is the output of firing a phrase.
type Expansion struct {
	String     string
	Backspaces int
	Lefts      int
}

// Phrase is a text snippet.
type Phrase struct {
	Settings
	Description string
	Body        string
	SendMode    SendMode
	Prompt      bool
	OmitTrigger bool
	MatchCase   bool
	Path        string
}

// NewPhrase returns a keyboard-mode phrase.
func NewPhrase(description, body string) *Phrase {
	return &Phrase{Settings: newSettings(), Description: description, Body: body, SendMode: defaultPhraseSend}
}

func (p *Phrase) Name() string { return p.Description }

func (p *Phrase) ShouldPrompt(string) bool { return p.Prompt }

// BuildPhrase counts a use and returns the expansion for buffer before
// macros and cursor tokens are processed.
func (p *Phrase) BuildPhrase(buffer string) Expansion {
	p.UsageCount++
	if p.parent != nil {
		p.parent.IncrementUsage()
	}
	exp := Expansion{String: p.Body}

	_, typed, after, abbr, ok := p.partitionTrigger(buffer)
	if !ok {
		if p.parent != nil {
			exp.Backspaces = p.parent.BackspaceCount(buffer)
		}
		return exp
	}
	if p.Abbr.Backspace {
		exp.Backspaces = runeLen(abbr) + runeLen(after)
	} else {
		exp.Backspaces = runeLen(after)
	}
	if !p.OmitTrigger {
		exp.String += after
	}
	if p.MatchCase {
		exp.String = MatchCase(typed, exp.String)
	}
	return exp
}

// TriggerChars is the text the user typed to fire the phrase, used to
// retype it on undo.
func (p *Phrase) TriggerChars(buffer string) string {
	_, typed, after, _, ok := p.partitionTrigger(buffer)
	if !ok {
		return ""
	}
	return typed + after
}

// MatchCase shapes out after the case the user typed: title case
// capitalizes, all upper gives all upper, anything else lowercases.
func MatchCase(typed, out string) string {
	switch {
	case isTitle(typed):
		return capitalize(out)
	case isUpper(typed):
		return strings.ToUpper(out)
	default:
		return strings.ToLower(out)
	}
}

func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func isTitle(s string) bool {
	r := []rune(s)
	if len(r) == 0 || !unicode.IsUpper(r[0]) {
		return false
	}
	for _, c := range r[1:] {
		if unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

// Script is a Lua program.
type Script struct {
	Settings
	Description string
	Code        string
	Prompt      bool
	OmitTrigger bool
	Path        string
}

// NewScript returns a script with no triggers.
func NewScript(description, code string) *Script {
	return &Script{Settings: newSettings(), Description: description, Code: code}
}

func (s *Script) Name() string { return s.Description }

func (s *Script) ShouldPrompt(string) bool { return s.Prompt }

// ProcessBuffer counts a use and returns how many characters to erase and
// the trailing text to retype before the script runs.
func (s *Script) ProcessBuffer(buffer string) (backspaces int, retype string) {
	s.UsageCount++
	if s.parent != nil {
		s.parent.IncrementUsage()
	}
	_, _, after, abbr, ok := s.partitionTrigger(buffer)
	if !ok {
		if s.parent != nil {
			return s.parent.BackspaceCount(buffer), ""
		}
		return 0, ""
	}
	if s.Abbr.Backspace {
		backspaces = runeLen(abbr) + runeLen(after)
	} else {
		backspaces = runeLen(after)
	}
	if !s.OmitTrigger {
		retype = after
	}
	return backspaces, retype
}
