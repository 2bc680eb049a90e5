//go:build linux && cgo

package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
)

// uinputDeviceName is the name keybd_event gives its virtual keyboard. The
// evdev hook skips it so synthetic keys are not read back as typing.
const uinputDeviceName = "keybd_event"

// The kernel needs a moment to announce a new uinput device to the
// compositor; keys sent before that are lost.
const uinputSettle = 2 * time.Second

// UinputInjector types through a virtual uinput keyboard. It works under
// Wayland and on the console, where XTest is not available.
type UinputInjector struct {
	keymap *keystroke.Keymap

	mu      sync.Mutex
	kb      keybd_event.KeyBonding
	created time.Time
}

// NewUinputInjector creates the virtual keyboard. Characters are mapped to
// keys through km.
func NewUinputInjector(km *keystroke.Keymap) (*UinputInjector, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("%w: uinput: %v", ErrNoInjector, err)
	}
	return &UinputInjector{keymap: km, kb: kb, created: time.Now()}, nil
}

func (u *UinputInjector) settle() {
	if wait := uinputSettle - time.Since(u.created); wait > 0 {
		time.Sleep(wait)
	}
}

func (u *UinputInjector) applyMods(mods []keys.Key) {
	u.kb.Clear()
	for _, m := range mods {
		switch m {
		case keys.Shift:
			u.kb.HasSHIFT(true)
		case keys.Control:
			u.kb.HasCTRL(true)
		case keys.Alt, keys.Meta:
			u.kb.HasALT(true)
		case keys.AltGr:
			u.kb.HasALTGR(true)
		case keys.Super, keys.Hyper:
			u.kb.HasSuper(true)
		}
	}
}

// resolve turns a key token or character into a code plus the modifiers
// the current layout needs to produce it.
func (u *UinputInjector) resolve(key string) (uint16, []keys.Key, error) {
	if code, ok := keystroke.CodeForKey(keys.Key(key)); ok {
		return code, nil, nil
	}
	r := []rune(key)
	if len(r) != 1 {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	stroke, ok := u.keymap.StrokeFor(r[0])
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q is not on layout %s", ErrUnknownKey, key, u.keymap.Layout())
	}
	var extra []keys.Key
	switch stroke.Level {
	case keystroke.LevelShift:
		extra = []keys.Key{keys.Shift}
	case keystroke.LevelAltGr:
		extra = []keys.Key{keys.AltGr}
	case keystroke.LevelAltGrShift:
		extra = []keys.Key{keys.AltGr, keys.Shift}
	}
	return stroke.Code, extra, nil
}

// Type sends s one character at a time.
func (u *UinputInjector) Type(s string) error {
	for _, r := range s {
		if err := u.Tap(string(r), nil); err != nil {
			return err
		}
	}
	return nil
}

// Tap presses and releases key with mods held.
func (u *UinputInjector) Tap(key string, mods []keys.Key) error {
	code, extra, err := u.resolve(key)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.settle()
	u.applyMods(append(append([]keys.Key(nil), mods...), extra...))
	u.kb.SetKeys(int(code))
	return u.kb.Launching()
}

// Down presses key and leaves it held.
func (u *UinputInjector) Down(key string) error {
	code, _, err := u.resolve(key)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.settle()
	u.kb.Clear()
	u.kb.SetKeys(int(code))
	return u.kb.Press()
}

// Up releases key.
func (u *UinputInjector) Up(key string) error {
	code, _, err := u.resolve(key)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.kb.Clear()
	u.kb.SetKeys(int(code))
	return u.kb.Release()
}

// Close releases nothing; the device disappears with the process.
func (u *UinputInjector) Close() error { return nil }

func excludeOwnDevice(h keystroke.Hook) {
	if eh, ok := h.(*keystroke.EvdevHook); ok {
		eh.Exclude = append(eh.Exclude, uinputDeviceName)
	}
}
