package keystroke

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"autokeyd/internal/keys"
)

// Level selects a column of a keymap entry.
type Level int

const (
	LevelBase Level = iota
	LevelShift
	LevelAltGr
	LevelAltGrShift
	levelCount
)

// Stroke is how to produce a character: the key to press and the level it sits on.
type Stroke struct {
	Code  uint16
	Level Level
}

// Keymap translates evdev keycodes to characters for the active layout, and
// characters back to keycodes for injection. It is safe for concurrent use;
// Replace swaps the tables atomically when the layout changes.
type Keymap struct {
	mu      sync.RWMutex
	table   map[uint16][levelCount]string
	reverse map[rune]Stroke
	layout  string
}

// NewUSKeymap returns the built-in US layout used when the display server
// cannot be queried.
func NewUSKeymap() *Keymap {
	table := make(map[uint16][levelCount]string, len(usLayout))
	for code, pair := range usLayout {
		table[code] = [levelCount]string{string(pair[0]), string(pair[1])}
	}
	km := &Keymap{}
	km.Replace("us", table)
	return km
}

// Layout names the layout the tables were built from.
func (k *Keymap) Layout() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.layout
}

// Replace installs a new character table.
func (k *Keymap) Replace(layout string, table map[uint16][levelCount]string) {
	reverse := make(map[rune]Stroke)
	for lvl := LevelBase; lvl < levelCount; lvl++ {
		for code, cols := range table {
			s := cols[lvl]
			if utf8.RuneCountInString(s) != 1 {
				continue
			}
			r, _ := utf8.DecodeRuneInString(s)
			prev, seen := reverse[r]
			// lowest level wins, then lowest code for stable output
			if !seen || (prev.Level == lvl && code < prev.Code) {
				reverse[r] = Stroke{Code: code, Level: lvl}
			}
		}
	}
	k.mu.Lock()
	k.table = table
	k.reverse = reverse
	k.layout = layout
	k.mu.Unlock()
}

// Lookup returns what code produces under the given state: a single
// character, or a key token such as "<enter>" for non-printing keys.
// It returns "" for modifiers and codes the keymap does not know.
func (k *Keymap) Lookup(code uint16, shifted, numLock, altGr bool) string {
	if pad, ok := keypad[code]; ok {
		if numLock && !shifted {
			return pad[1]
		}
		return pad[0]
	}

	k.mu.RLock()
	cols, ok := k.table[code]
	k.mu.RUnlock()
	if ok {
		lvl := LevelBase
		switch {
		case altGr && shifted:
			lvl = LevelAltGrShift
		case altGr:
			lvl = LevelAltGr
		case shifted:
			lvl = LevelShift
		}
		if s := cols[lvl]; s != "" {
			return s
		}
		if s := cols[LevelBase]; s != "" && lvl != LevelBase {
			if lvl == LevelShift {
				return strings.ToUpper(s)
			}
			return s
		}
	}

	if named, ok := namedForCode[code]; ok {
		return string(named)
	}
	if _, isMod := modifierCodes[code]; isMod {
		return ""
	}
	return string(keys.Code(int(code) + xKeycodeOffset))
}

// StrokeFor returns the key and level that produce r.
func (k *Keymap) StrokeFor(r rune) (Stroke, bool) {
	switch r {
	case '\n':
		return Stroke{Code: KeyEnter}, true
	case '\t':
		return Stroke{Code: KeyTab}, true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.reverse[r]
	return s, ok
}

// ParseXmodmap reads `xmodmap -pke` output and returns an evdev-indexed
// character table. Keysym columns are: base, shift, mode_switch,
// mode_switch+shift, level3, level3+shift.
func ParseXmodmap(r io.Reader) (map[uint16][levelCount]string, error) {
	table := make(map[uint16][levelCount]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "keycode") {
			continue
		}
		lhs, rhs, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		fields := strings.Fields(lhs)
		if len(fields) != 2 {
			continue
		}
		xcode, err := strconv.Atoi(fields[1])
		if err != nil || xcode < xKeycodeOffset {
			continue
		}
		syms := strings.Fields(rhs)
		if len(syms) == 0 {
			continue
		}

		var cols [levelCount]string
		col := func(i int) string {
			if i < len(syms) {
				return KeysymToString(syms[i])
			}
			return ""
		}
		cols[LevelBase] = col(0)
		cols[LevelShift] = col(1)
		cols[LevelAltGr] = col(4)
		cols[LevelAltGrShift] = col(5)
		if cols[LevelBase] == "" && cols[LevelShift] == "" {
			continue
		}
		table[uint16(xcode-xKeycodeOffset)] = cols
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read xmodmap output: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("xmodmap output contained no printable keys")
	}
	return table, nil
}

// KeysymToString converts an X keysym name to the character it types, or ""
// when the keysym is not printable.
func KeysymToString(name string) string {
	if utf8.RuneCountInString(name) == 1 {
		return name
	}
	if s, ok := keysymNames[name]; ok {
		return s
	}
	// U20AC style unicode keysyms
	if len(name) > 1 && name[0] == 'U' {
		if v, err := strconv.ParseUint(name[1:], 16, 32); err == nil {
			return string(rune(v))
		}
	}
	// 0x1000000-offset numeric keysyms
	if strings.HasPrefix(name, "0x") {
		if v, err := strconv.ParseUint(name[2:], 16, 32); err == nil && v >= 0x1000000 {
			return string(rune(v - 0x1000000))
		}
	}
	return ""
}

var keysymNames = map[string]string{
	"space": " ", "exclam": "!", "quotedbl": "\"", "numbersign": "#",
	"dollar": "$", "percent": "%", "ampersand": "&", "apostrophe": "'",
	"parenleft": "(", "parenright": ")", "asterisk": "*", "plus": "+",
	"comma": ",", "minus": "-", "period": ".", "slash": "/", "colon": ":",
	"semicolon": ";", "less": "<", "equal": "=", "greater": ">",
	"question": "?", "at": "@", "bracketleft": "[", "backslash": "\\",
	"bracketright": "]", "asciicircum": "^", "underscore": "_", "grave": "`",
	"braceleft": "{", "bar": "|", "braceright": "}", "asciitilde": "~",
	"sterling": "£", "EuroSign": "€", "section": "§", "degree": "°",
	"acute": "´", "diaeresis": "¨", "mu": "µ", "twosuperior": "²",
	"threesuperior": "³", "onehalf": "½", "notsign": "¬", "brokenbar": "¦",
	"adiaeresis": "ä", "Adiaeresis": "Ä", "odiaeresis": "ö", "Odiaeresis": "Ö",
	"udiaeresis": "ü", "Udiaeresis": "Ü", "ssharp": "ß", "eacute": "é",
	"Eacute": "É", "egrave": "è", "Egrave": "È", "agrave": "à", "Agrave": "À",
	"ccedilla": "ç", "Ccedilla": "Ç", "ntilde": "ñ", "Ntilde": "Ñ",
	"aring": "å", "Aring": "Å", "ae": "æ", "AE": "Æ", "oslash": "ø",
	"Ooblique": "Ø", "ugrave": "ù", "Ugrave": "Ù", "igrave": "ì",
	"Igrave": "Ì", "ograve": "ò", "Ograve": "Ò", "masculine": "º",
	"ordfeminine": "ª", "exclamdown": "¡", "questiondown": "¿",
	"guillemotleft": "«", "guillemotright": "»", "multiply": "×",
	"division": "÷", "currency": "¤", "yen": "¥", "cent": "¢",
	"KP_Space": " ", "KP_Equal": "=",
}
