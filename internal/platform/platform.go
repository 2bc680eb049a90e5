// Package platform is the only code that touches the OS input subsystem:
// it captures hardware events, injects synthetic ones, owns the clipboard
// channels and the global hotkey grabs.
package platform

import (
	"context"
	"errors"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/window"
)

// Click describes a pointer button press.
type Click struct {
	X, Y       int
	RelX, RelY int
	Button     keystroke.Button
	Window     window.Info
}

// Receiver consumes hardware events. Every method is called on an input
// goroutine and must return quickly.
type Receiver interface {
	HandleKeypress(code uint16, win window.Info)
	HandleModifierDown(mod keys.Key)
	HandleModifierUp(mod keys.Key)
	HandleMouseClick(click Click)
}

// HotkeyBinding is anything carrying a (modifiers, key) hotkey.
type HotkeyBinding interface {
	HotkeyModifiers() []keys.Key
	HotkeyKey() string
}

// Clipboard gives access to the two X selections as plain text.
type Clipboard interface {
	Text() (string, error)
	SetText(s string) error
	Selection() (string, error)
	SetSelection(s string) error
}

// Pointer moves and clicks the mouse.
type Pointer interface {
	Click(b keystroke.Button) error
	ClickAt(x, y int, b keystroke.Button) error
	Move(x, y int) error
	Scroll(dx, dy int) error
	Location() (x, y int)
}

// Injector synthesizes keyboard input. Keys are either key tokens such as
// "<enter>" or single characters.
type Injector interface {
	Type(s string) error
	Tap(key string, mods []keys.Key) error
	Down(key string) error
	Up(key string) error
	Close() error
}

// HotkeyGrabber registers global key combinations with the display server
// so the focused application does not also receive them.
type HotkeyGrabber interface {
	Grab(mods []keys.Key, key string) error
	Ungrab(mods []keys.Key, key string) error
	Close()
}

// Interface is everything the engine needs from the desktop.
type Interface interface {
	Start(ctx context.Context, r Receiver) error
	Cancel()

	GrabKeyboard()
	UngrabKeyboard()
	GrabHotkey(h HotkeyBinding) error
	UngrabHotkey(h HotkeyBinding)

	LookupString(code uint16, shifted, numLock, altGr bool) string

	SendString(s string) error
	SendKey(key string) error
	SendModifiedKey(key string, mods []keys.Key) error
	PressKey(key string) error
	ReleaseKey(key string) error
	FakeKeypress(key string) error
	SendStringClipboard(s, pasteCommand string) (restore func(), err error)
	SendStringSelection(s string) (restore func(), err error)
	ClickMiddleMouseButton() error

	WindowInfo(ctx context.Context) window.Info

	Clipboard() Clipboard
	Pointer() Pointer
	Windows() window.Manager
}

var (
	// ErrUnknownKey is returned for key names the injector cannot produce.
	ErrUnknownKey = errors.New("unknown key")

	// ErrNoInjector is returned when no injection backend could be opened.
	ErrNoInjector = errors.New("no input injection backend available")

	// ErrClipboard wraps clipboard failures; a send that hits it is aborted.
	ErrClipboard = errors.New("clipboard unavailable")
)
