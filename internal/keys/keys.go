// Package keys defines the key-token grammar used in phrase bodies, hotkeys
// and the scripting API: named keys such as <enter>, modifier applications
// such as <ctrl>+v, and literal text.
package keys

import (
	"sort"
	"strconv"
	"strings"
)

// Key is a named key token, always lower case and including the angle brackets.
type Key string

// Named keys.
const (
	Left        Key = "<left>"
	Right       Key = "<right>"
	Up          Key = "<up>"
	Down        Key = "<down>"
	Backspace   Key = "<backspace>"
	Tab         Key = "<tab>"
	Enter       Key = "<enter>"
	Space       Key = "<space>"
	ScrollLock  Key = "<scroll_lock>"
	PrintScreen Key = "<print_screen>"
	Pause       Key = "<pause>"
	Menu        Key = "<menu>"
	Escape      Key = "<escape>"
	Insert      Key = "<insert>"
	Delete      Key = "<delete>"
	Home        Key = "<home>"
	End         Key = "<end>"
	PageUp      Key = "<page_up>"
	PageDown    Key = "<page_down>"

	NPInsert   Key = "<np_insert>"
	NPDelete   Key = "<np_delete>"
	NPHome     Key = "<np_home>"
	NPEnd      Key = "<np_end>"
	NPPageUp   Key = "<np_page_up>"
	NPPageDown Key = "<np_page_down>"
	NPLeft     Key = "<np_left>"
	NPRight    Key = "<np_right>"
	NPUp       Key = "<np_up>"
	NPDown     Key = "<np_down>"
	NPDivide   Key = "<np_divide>"
	NPMultiply Key = "<np_multiply>"
	NPAdd      Key = "<np_add>"
	NPSubtract Key = "<np_subtract>"
	NP5        Key = "<np_5>"
)

// Modifier keys.
const (
	Control  Key = "<ctrl>"
	Alt      Key = "<alt>"
	AltGr    Key = "<alt_gr>"
	Shift    Key = "<shift>"
	Super    Key = "<super>"
	Hyper    Key = "<hyper>"
	Meta     Key = "<meta>"
	CapsLock Key = "<capslock>"
	NumLock  Key = "<numlock>"
)

// Modifiers lists every modifier key.
var Modifiers = []Key{Control, Alt, AltGr, Shift, Super, Hyper, Meta, CapsLock, NumLock}

// HeldModifiers are the modifiers that count as held for hotkeys and for the
// input buffer; the two lock keys are excluded.
var HeldModifiers = []Key{Control, AltGr, Alt, Super, Shift, Hyper, Meta}

// NavigationKeys move the caret; an expansion containing one gets no cursor lefts.
var NavigationKeys = []Key{Left, Right, Up, Down, Backspace, Home, End, PageUp, PageDown}

var named = map[Key]struct{}{}

func init() {
	for _, k := range []Key{
		Left, Right, Up, Down, Backspace, Tab, Enter, Space, ScrollLock, PrintScreen,
		Pause, Menu, Escape, Insert, Delete, Home, End, PageUp, PageDown,
		NPInsert, NPDelete, NPHome, NPEnd, NPPageUp, NPPageDown, NPLeft, NPRight,
		NPUp, NPDown, NPDivide, NPMultiply, NPAdd, NPSubtract, NP5,
	} {
		named[k] = struct{}{}
	}
	for _, m := range Modifiers {
		named[m] = struct{}{}
	}
	for i := 1; i <= 35; i++ {
		named[F(i)] = struct{}{}
	}
}

// F returns the function key <fN>.
func F(n int) Key {
	return Key("<f" + strconv.Itoa(n) + ">")
}

// Code returns the raw keycode token <codeN>.
func Code(n int) Key {
	return Key("<code" + strconv.Itoa(n) + ">")
}

// ParseCode extracts N from a <codeN> token.
func ParseCode(s string) (int, bool) {
	s = strings.ToLower(s)
	if !strings.HasPrefix(s, "<code") || !strings.HasSuffix(s, ">") {
		return 0, false
	}
	digits := s[len("<code") : len(s)-1]
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// IsKey reports whether s is a recognized key token. Matching is case-insensitive.
func IsKey(s string) bool {
	if len(s) < 3 || s[0] != '<' || s[len(s)-1] != '>' {
		return false
	}
	lower := Key(strings.ToLower(s))
	if _, ok := named[lower]; ok {
		return true
	}
	_, ok := ParseCode(string(lower))
	return ok
}

// IsModifier reports whether s names one of the nine modifier keys.
func IsModifier(s string) bool {
	lower := Key(strings.ToLower(s))
	for _, m := range Modifiers {
		if m == lower {
			return true
		}
	}
	return false
}

// IsLock reports whether k is CapsLock or NumLock.
func IsLock(k Key) bool {
	return k == CapsLock || k == NumLock
}

// IsNavigation reports whether k moves the caret.
func IsNavigation(k Key) bool {
	for _, n := range NavigationKeys {
		if n == k {
			return true
		}
	}
	return false
}

// Normalize lower-cases key tokens and leaves plain characters untouched.
func Normalize(s string) string {
	if IsKey(s) {
		return strings.ToLower(s)
	}
	return s
}

// SortModifiers returns a sorted copy of mods. Sorted lists compare equal
// regardless of the order the user pressed or typed the modifiers in.
func SortModifiers(mods []Key) []Key {
	out := make([]Key, len(mods))
	copy(out, mods)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EqualModifiers compares two modifier lists ignoring order.
func EqualModifiers(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := SortModifiers(a), SortModifiers(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// IsPrintable reports whether a looked-up key value is a single character
// rather than a key token.
func IsPrintable(s string) bool {
	return s != "" && !IsKey(s) && len([]rune(s)) == 1
}

// FormatHotkey renders modifiers and key as "<ctrl>+<shift>+a".
func FormatHotkey(mods []Key, key string) string {
	var b strings.Builder
	for _, m := range SortModifiers(mods) {
		b.WriteString(string(m))
		b.WriteByte('+')
	}
	b.WriteString(key)
	return b.String()
}

// ParseHotkey is the inverse of FormatHotkey.
func ParseHotkey(s string) ([]Key, string, bool) {
	var mods []Key
	for _, seg := range Split(s) {
		switch seg.Kind {
		case ModifierApply:
			mods = append(mods, Key(seg.Text))
		case Named:
			return SortModifiers(mods), seg.Text, true
		case Literal:
			if len([]rune(seg.Text)) != 1 {
				return nil, "", false
			}
			return SortModifiers(mods), seg.Text, true
		}
	}
	return nil, "", false
}
