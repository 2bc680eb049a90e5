//go:build !linux

package platform

import (
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/window"
)

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

// NewSystemClipboard falls back to a process-local clipboard.
func NewSystemClipboard() Clipboard {
	return &MemoryClipboard{}
}
