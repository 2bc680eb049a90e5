//go:build linux && cgo

package platform

import (
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/window"
)

func defaultInjector(display window.DisplayServer, km *keystroke.Keymap) (Injector, error) {
	if display == window.X11 {
		return RobotgoInjector{}, nil
	}
	inj, err := NewUinputInjector(km)
	if err != nil {
		return nil, err
	}
	return inj, nil
}

func defaultPointer() Pointer {
	return RobotgoPointer{}
}

func defaultGrabber(display window.DisplayServer, log *logging.Logger) HotkeyGrabber {
	if display == window.X11 {
		return NewX11Grabber(log)
	}
	return NewRecordingGrabber(log)
}
