package model

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"autokeyd/internal/keys"
	"autokeyd/internal/window"
)

// TriggerMode is how an item can be fired. The values match the on-disk
// format.
type TriggerMode int

const (
	ModeNone         TriggerMode = 0
	ModeAbbreviation TriggerMode = 1
	ModeHotkey       TriggerMode = 3
)

// DefaultWordChars is the word-character class used when none is set.
const DefaultWordChars = `[\w]`

// Abbreviation holds the abbreviation settings of an item or folder.
type Abbreviation struct {
	Abbreviations []string
	Backspace     bool
	IgnoreCase    bool
	Immediate     bool
	TriggerInside bool

	wordChars *regexp.Regexp
}

// NewAbbreviation returns settings with backspace on and the default
// word characters.
func NewAbbreviation(abbrs ...string) Abbreviation {
	a := Abbreviation{Abbreviations: abbrs, Backspace: true}
	a.wordChars = regexp.MustCompile(DefaultWordChars)
	return a
}

// SetWordChars sets the regex deciding which characters continue a word.
func (a *Abbreviation) SetWordChars(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("word chars %q: %w", pattern, err)
	}
	a.wordChars = re
	return nil
}

// WordChars returns the word-character pattern.
func (a *Abbreviation) WordChars() string {
	if a.wordChars == nil {
		return DefaultWordChars
	}
	return a.wordChars.String()
}

func (a *Abbreviation) isWordChar(s string) bool {
	re := a.wordChars
	if re == nil {
		re = regexp.MustCompile(DefaultWordChars)
	}
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

// Partition splits buffer around the rightmost occurrence of abbr. With
// IgnoreCase the index is found on lowercased text but the returned pieces
// are slices of the original, so the typed case is preserved.
func (a *Abbreviation) Partition(abbr, buffer string) (before, match, after string) {
	if abbr == "" {
		return "", buffer, ""
	}
	var i int
	if a.IgnoreCase {
		i = lastIndexFold(buffer, abbr)
	} else {
		i = strings.LastIndex(buffer, abbr)
	}
	if i < 0 {
		return "", "", buffer
	}
	end := i + len(abbr)
	if a.IgnoreCase {
		end = i + len(prefixFold(buffer[i:], abbr))
	}
	return buffer[:i], buffer[i:end], buffer[end:]
}

// lastIndexFold finds the last case-insensitive occurrence of sub in s.
func lastIndexFold(s, sub string) int {
	for i := len(s); i >= 0; i-- {
		if i < len(s) && !isRuneStart(s[i]) {
			continue
		}
		if prefixFold(s[i:], sub) != "" {
			return i
		}
	}
	return -1
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// prefixFold returns the prefix of s that case-folds to sub, or "".
func prefixFold(s, sub string) string {
	sr := []rune(sub)
	n := 0
	for j, r := range s {
		if n == len(sr) {
			return s[:j]
		}
		if unicode.ToLower(r) != unicode.ToLower(sr[n]) {
			return ""
		}
		n++
	}
	if n == len(sr) {
		return s
	}
	return ""
}

// check decides whether abbr triggers on buffer.
func (a *Abbreviation) check(abbr, buffer string) bool {
	before, match, after := a.Partition(abbr, buffer)
	if match == "" {
		return false
	}
	if a.Immediate {
		if after != "" {
			return false
		}
	} else {
		r := []rune(after)
		if len(r) != 1 || a.isWordChar(after) {
			return false
		}
	}
	if before != "" && !a.TriggerInside {
		last := []rune(before)
		if !unicode.IsSpace(last[len(last)-1]) {
			return false
		}
	}
	return true
}

// TriggerAbbreviation returns the first abbreviation, in list order, that
// triggers on buffer.
func (a *Abbreviation) TriggerAbbreviation(buffer string) (string, bool) {
	for _, abbr := range a.Abbreviations {
		if a.check(abbr, buffer) {
			return abbr, true
		}
	}
	return "", false
}

// Triggers reports whether any abbreviation triggers on buffer.
func (a *Abbreviation) Triggers(buffer string) bool {
	_, ok := a.TriggerAbbreviation(buffer)
	return ok
}

// Has reports whether abbr is one of the configured abbreviations.
func (a *Abbreviation) Has(abbr string) bool {
	for _, x := range a.Abbreviations {
		if x == abbr {
			return true
		}
	}
	return false
}

// Hotkey is a sorted modifier list and one ordinary key.
type Hotkey struct {
	Modifiers []keys.Key
	Key       string
}

// IsSet reports whether a key is configured.
func (h Hotkey) IsSet() bool { return h.Key != "" }

// Matches compares against a pressed combination.
func (h Hotkey) Matches(mods []keys.Key, key string) bool {
	return h.Key != "" && h.Key == key && keys.EqualModifiers(h.Modifiers, mods)
}

func (h Hotkey) String() string {
	if h.Key == "" {
		return ""
	}
	key := h.Key
	if key == " " {
		key = string(keys.Space)
	}
	return keys.FormatHotkey(h.Modifiers, key)
}

// WindowFilter restricts where an item fires.
type WindowFilter struct {
	pattern   string
	re        *regexp.Regexp
	Recursive bool
}

// NewWindowFilter compiles pattern. The match is anchored at the start of
// the window title or class.
func NewWindowFilter(pattern string, recursive bool) (WindowFilter, error) {
	f := WindowFilter{Recursive: recursive}
	if err := f.Set(pattern); err != nil {
		return WindowFilter{}, err
	}
	return f, nil
}

// Set replaces the pattern; an empty pattern removes the filter.
func (f *WindowFilter) Set(pattern string) error {
	if pattern == "" {
		f.pattern, f.re = "", nil
		return nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return fmt.Errorf("window filter %q: %w", pattern, err)
	}
	f.pattern, f.re = pattern, re
	return nil
}

// Pattern returns the pattern as configured.
func (f WindowFilter) Pattern() string { return f.pattern }

// IsSet reports whether a pattern is configured.
func (f WindowFilter) IsSet() bool { return f.re != nil }

func (f WindowFilter) matchInfo(win window.Info) bool {
	return f.re.MatchString(win.Title) || f.re.MatchString(win.Class)
}
