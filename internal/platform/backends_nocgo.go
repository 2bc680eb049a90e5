//go:build linux && !cgo

package platform

import (
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/window"
)

// Both injection backends need cgo; a pure-Go build can watch the keyboard
// but not type.
func defaultInjector(window.DisplayServer, *keystroke.Keymap) (Injector, error) {
	return nil, ErrNoInjector
}

func defaultPointer() Pointer {
	return nullPointer{}
}

func defaultGrabber(_ window.DisplayServer, log *logging.Logger) HotkeyGrabber {
	return NewRecordingGrabber(log)
}

func excludeOwnDevice(keystroke.Hook) {}
