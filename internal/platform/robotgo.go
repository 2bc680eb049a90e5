//go:build linux && cgo

package platform

import (
	"fmt"

	"github.com/go-vgo/robotgo"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
)

// robotgoNames maps key tokens to robotgo's key names.
var robotgoNames = map[keys.Key]string{
	keys.Left: "left", keys.Right: "right", keys.Up: "up", keys.Down: "down",
	keys.Backspace: "backspace", keys.Tab: "tab", keys.Enter: "enter",
	keys.Escape: "esc", keys.Space: "space", keys.Insert: "insert",
	keys.Delete: "delete", keys.Home: "home", keys.End: "end",
	keys.PageUp: "pageup", keys.PageDown: "pagedown",
	keys.PrintScreen: "printscreen", keys.Menu: "menu",
	keys.ScrollLock: "scrolllock", keys.Pause: "pause",
	keys.CapsLock: "capslock", keys.NumLock: "numlock",
	keys.Control: "ctrl", keys.Alt: "alt", keys.AltGr: "ralt",
	keys.Shift: "shift", keys.Super: "cmd", keys.Hyper: "cmd", keys.Meta: "alt",
	keys.NPInsert: "num0", keys.NPEnd: "num1", keys.NPDown: "num2",
	keys.NPPageDown: "num3", keys.NPLeft: "num4", keys.NP5: "num5",
	keys.NPRight: "num6", keys.NPHome: "num7", keys.NPUp: "num8",
	keys.NPPageUp: "num9", keys.NPDelete: "num.", keys.NPDivide: "num/",
	keys.NPMultiply: "num*", keys.NPAdd: "num+", keys.NPSubtract: "num-",
}

func robotgoKey(key string) (string, error) {
	if name, ok := robotgoNames[keys.Key(key)]; ok {
		return name, nil
	}
	for i := 1; i <= 24; i++ {
		if keys.F(i) == keys.Key(key) {
			return fmt.Sprintf("f%d", i), nil
		}
	}
	if len([]rune(key)) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

func robotgoMods(mods []keys.Key) []interface{} {
	out := make([]interface{}, 0, len(mods))
	for _, m := range mods {
		if name, ok := robotgoNames[m]; ok {
			out = append(out, name)
		}
	}
	return out
}

// RobotgoInjector drives XTest through robotgo.
type RobotgoInjector struct{}

// Type types s as text.
func (RobotgoInjector) Type(s string) error {
	robotgo.TypeStr(s)
	return nil
}

// Tap presses and releases key with mods held.
func (RobotgoInjector) Tap(key string, mods []keys.Key) error {
	name, err := robotgoKey(key)
	if err != nil {
		return err
	}
	return robotgo.KeyTap(name, robotgoMods(mods)...)
}

// Down presses key.
func (RobotgoInjector) Down(key string) error {
	name, err := robotgoKey(key)
	if err != nil {
		return err
	}
	return robotgo.KeyToggle(name, "down")
}

// Up releases key.
func (RobotgoInjector) Up(key string) error {
	name, err := robotgoKey(key)
	if err != nil {
		return err
	}
	return robotgo.KeyToggle(name, "up")
}

// Close is a no-op.
func (RobotgoInjector) Close() error { return nil }

// RobotgoPointer moves and clicks the X pointer.
type RobotgoPointer struct{}

// Click clicks b at the current position.
func (RobotgoPointer) Click(b keystroke.Button) error {
	robotgo.Click(b.String(), false)
	return nil
}

// ClickAt moves to (x, y) and clicks.
func (p RobotgoPointer) ClickAt(x, y int, b keystroke.Button) error {
	robotgo.Move(x, y)
	return p.Click(b)
}

// Move warps the pointer.
func (RobotgoPointer) Move(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

// Scroll scrolls by (dx, dy) notches.
func (RobotgoPointer) Scroll(dx, dy int) error {
	robotgo.Scroll(dx, dy)
	return nil
}

// Location returns the pointer position.
func (RobotgoPointer) Location() (int, int) {
	return robotgo.Location()
}
