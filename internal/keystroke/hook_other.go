//go:build !linux

package keystroke

import "context"

type unsupportedHook struct{}

func newPlatformHook() Hook {
	return unsupportedHook{}
}

func (unsupportedHook) Start(context.Context, Sink) error { return ErrNotAvailable }
func (unsupportedHook) Stop() error                       { return nil }
func (unsupportedHook) Available() (bool, string) {
	return false, "keyboard capture requires Linux evdev"
}
