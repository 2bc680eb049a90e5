package keystroke

import "autokeyd/internal/keys"

// evdev keycodes (linux/input-event-codes.h) used by the engine.
const (
	KeyEsc        uint16 = 1
	KeyMinus      uint16 = 12
	KeyEqual      uint16 = 13
	KeyBackspace  uint16 = 14
	KeyTab        uint16 = 15
	KeyLeftBrace  uint16 = 26
	KeyRightBrace uint16 = 27
	KeyEnter      uint16 = 28
	KeyLeftCtrl   uint16 = 29
	KeySemicolon  uint16 = 39
	KeyApostrophe uint16 = 40
	KeyGrave      uint16 = 41
	KeyLeftShift  uint16 = 42
	KeyBackslash  uint16 = 43
	KeyComma      uint16 = 51
	KeyDot        uint16 = 52
	KeySlash      uint16 = 53
	KeyRightShift uint16 = 54
	KeyKPAsterisk uint16 = 55
	KeyLeftAlt    uint16 = 56
	KeySpace      uint16 = 57
	KeyCapsLock   uint16 = 58
	KeyF1         uint16 = 59
	KeyNumLock    uint16 = 69
	KeyScrollLock uint16 = 70
	KeyKP7        uint16 = 71
	KeyKP8        uint16 = 72
	KeyKP9        uint16 = 73
	KeyKPMinus    uint16 = 74
	KeyKP4        uint16 = 75
	KeyKP5        uint16 = 76
	KeyKP6        uint16 = 77
	KeyKPPlus     uint16 = 78
	KeyKP1        uint16 = 79
	KeyKP2        uint16 = 80
	KeyKP3        uint16 = 81
	KeyKP0        uint16 = 82
	KeyKPDot      uint16 = 83
	Key102nd      uint16 = 86
	KeyF11        uint16 = 87
	KeyF12        uint16 = 88
	KeyKPEnter    uint16 = 96
	KeyRightCtrl  uint16 = 97
	KeyKPSlash    uint16 = 98
	KeySysRq      uint16 = 99
	KeyRightAlt   uint16 = 100
	KeyHome       uint16 = 102
	KeyUp         uint16 = 103
	KeyPageUp     uint16 = 104
	KeyLeft       uint16 = 105
	KeyRight      uint16 = 106
	KeyEnd        uint16 = 107
	KeyDown       uint16 = 108
	KeyPageDown   uint16 = 109
	KeyInsert     uint16 = 110
	KeyDelete     uint16 = 111
	KeyPause      uint16 = 119
	KeyLeftMeta   uint16 = 125
	KeyRightMeta  uint16 = 126
	KeyCompose    uint16 = 127
	KeyF13        uint16 = 183

	BtnLeft   uint16 = 0x110
	BtnRight  uint16 = 0x111
	BtnMiddle uint16 = 0x112
)

// X11 keycodes are evdev codes offset by 8.
const xKeycodeOffset = 8

// FunctionKey returns the evdev code of <fN> for 1 <= n <= 24.
func FunctionKey(n int) (uint16, bool) {
	switch {
	case n >= 1 && n <= 10:
		return KeyF1 + uint16(n-1), true
	case n == 11:
		return KeyF11, true
	case n == 12:
		return KeyF12, true
	case n >= 13 && n <= 24:
		return KeyF13 + uint16(n-13), true
	}
	return 0, false
}

// modifierCodes maps modifier keycodes to the modifier they set.
var modifierCodes = map[uint16]keys.Key{
	KeyLeftCtrl:   keys.Control,
	KeyRightCtrl:  keys.Control,
	KeyLeftShift:  keys.Shift,
	KeyRightShift: keys.Shift,
	KeyLeftAlt:    keys.Alt,
	KeyRightAlt:   keys.AltGr,
	KeyLeftMeta:   keys.Super,
	KeyRightMeta:  keys.Super,
	KeyCapsLock:   keys.CapsLock,
	KeyNumLock:    keys.NumLock,
}

// ModifierForCode returns the modifier a keycode drives, if any.
func ModifierForCode(code uint16) (keys.Key, bool) {
	k, ok := modifierCodes[code]
	return k, ok
}

// CodeForModifier returns the left-hand keycode for a modifier.
func CodeForModifier(k keys.Key) (uint16, bool) {
	switch k {
	case keys.Control:
		return KeyLeftCtrl, true
	case keys.Shift:
		return KeyLeftShift, true
	case keys.Alt, keys.Meta:
		return KeyLeftAlt, true
	case keys.AltGr:
		return KeyRightAlt, true
	case keys.Super, keys.Hyper:
		return KeyLeftMeta, true
	case keys.CapsLock:
		return KeyCapsLock, true
	case keys.NumLock:
		return KeyNumLock, true
	}
	return 0, false
}

// namedCodes maps layout-independent keys to evdev codes.
var namedCodes = map[keys.Key]uint16{
	keys.Left:        KeyLeft,
	keys.Right:       KeyRight,
	keys.Up:          KeyUp,
	keys.Down:        KeyDown,
	keys.Backspace:   KeyBackspace,
	keys.Tab:         KeyTab,
	keys.Enter:       KeyEnter,
	keys.Space:       KeySpace,
	keys.ScrollLock:  KeyScrollLock,
	keys.PrintScreen: KeySysRq,
	keys.Pause:       KeyPause,
	keys.Menu:        KeyCompose,
	keys.Escape:      KeyEsc,
	keys.Insert:      KeyInsert,
	keys.Delete:      KeyDelete,
	keys.Home:        KeyHome,
	keys.End:         KeyEnd,
	keys.PageUp:      KeyPageUp,
	keys.PageDown:    KeyPageDown,
	keys.NPInsert:    KeyKP0,
	keys.NPDelete:    KeyKPDot,
	keys.NPHome:      KeyKP7,
	keys.NPEnd:       KeyKP1,
	keys.NPPageUp:    KeyKP9,
	keys.NPPageDown:  KeyKP3,
	keys.NPLeft:      KeyKP4,
	keys.NPRight:     KeyKP6,
	keys.NPUp:        KeyKP8,
	keys.NPDown:      KeyKP2,
	keys.NPDivide:    KeyKPSlash,
	keys.NPMultiply:  KeyKPAsterisk,
	keys.NPAdd:       KeyKPPlus,
	keys.NPSubtract:  KeyKPMinus,
	keys.NP5:         KeyKP5,
}

// CodeForKey returns the evdev code of a named key token, including
// modifiers, function keys and <codeN> raw codes.
func CodeForKey(k keys.Key) (uint16, bool) {
	if c, ok := namedCodes[k]; ok {
		return c, true
	}
	if c, ok := CodeForModifier(k); ok {
		return c, true
	}
	if n, ok := keys.ParseCode(string(k)); ok {
		if n >= xKeycodeOffset {
			return uint16(n - xKeycodeOffset), true
		}
		return 0, false
	}
	for i := 1; i <= 24; i++ {
		if keys.F(i) == k {
			return FunctionKey(i)
		}
	}
	return 0, false
}

// namedForCode is the inverse of namedCodes for non-keypad keys.
var namedForCode = func() map[uint16]keys.Key {
	m := make(map[uint16]keys.Key)
	for k, c := range namedCodes {
		if c >= KeyKP7 && c <= KeyKPDot || c == KeyKPSlash || c == KeyKPAsterisk {
			continue
		}
		m[c] = k
	}
	for i := 1; i <= 24; i++ {
		c, _ := FunctionKey(i)
		m[c] = keys.F(i)
	}
	m[KeyKPEnter] = keys.Enter
	return m
}()

// keypad maps keypad codes to (numlock off, numlock on) values.
var keypad = map[uint16][2]string{
	KeyKP0:        {string(keys.NPInsert), "0"},
	KeyKP1:        {string(keys.NPEnd), "1"},
	KeyKP2:        {string(keys.NPDown), "2"},
	KeyKP3:        {string(keys.NPPageDown), "3"},
	KeyKP4:        {string(keys.NPLeft), "4"},
	KeyKP5:        {string(keys.NP5), "5"},
	KeyKP6:        {string(keys.NPRight), "6"},
	KeyKP7:        {string(keys.NPHome), "7"},
	KeyKP8:        {string(keys.NPUp), "8"},
	KeyKP9:        {string(keys.NPPageUp), "9"},
	KeyKPDot:      {string(keys.NPDelete), "."},
	KeyKPSlash:    {string(keys.NPDivide), "/"},
	KeyKPAsterisk: {string(keys.NPMultiply), "*"},
	KeyKPMinus:    {string(keys.NPSubtract), "-"},
	KeyKPPlus:     {string(keys.NPAdd), "+"},
}

// usLayout is the fallback character table: evdev code -> (plain, shifted).
var usLayout = map[uint16][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	KeyMinus: {'-', '_'}, KeyEqual: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	KeyLeftBrace: {'[', '{'}, KeyRightBrace: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	KeySemicolon: {';', ':'}, KeyApostrophe: {'\'', '"'}, KeyGrave: {'`', '~'},
	KeyBackslash: {'\\', '|'},
	44:           {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	KeyComma: {',', '<'}, KeyDot: {'.', '>'}, KeySlash: {'/', '?'},
	KeySpace: {' ', ' '},
	Key102nd: {'<', '>'},
}
