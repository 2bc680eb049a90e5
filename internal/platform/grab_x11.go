//go:build linux && cgo

package platform

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"

	"autokeyd/internal/keys"
	"autokeyd/internal/logging"
)

// X keysyms for named keys.
var keysyms = map[keys.Key]hotkey.Key{
	keys.Enter: 0xff0d, keys.Tab: 0xff09, keys.Escape: 0xff1b,
	keys.Backspace: 0xff08, keys.Delete: 0xffff, keys.Insert: 0xff63,
	keys.Home: 0xff50, keys.Left: 0xff51, keys.Up: 0xff52, keys.Right: 0xff53,
	keys.Down: 0xff54, keys.PageUp: 0xff55, keys.PageDown: 0xff56, keys.End: 0xff57,
	keys.PrintScreen: 0xff61, keys.ScrollLock: 0xff14, keys.Pause: 0xff13,
	keys.Menu: 0xff67, keys.Space: 0x0020,
}

var grabModifiers = map[keys.Key]hotkey.Modifier{
	keys.Control: hotkey.ModCtrl,
	keys.Shift:   hotkey.ModShift,
	keys.Alt:     hotkey.Mod1,
	keys.Meta:    hotkey.Mod1,
	keys.Super:   hotkey.Mod4,
	keys.Hyper:   hotkey.Mod4,
	keys.AltGr:   hotkey.Mod5,
}

func keysymFor(key string) (hotkey.Key, error) {
	if ks, ok := keysyms[keys.Key(key)]; ok {
		return ks, nil
	}
	for i := 1; i <= 35; i++ {
		if keys.F(i) == keys.Key(key) {
			return hotkey.Key(0xffbe + i - 1), nil
		}
	}
	r := []rune(key)
	if len(r) == 1 && r[0] < 0x100 {
		// Latin-1 keysyms equal their code points; X grabs the lowercase one.
		if r[0] >= 'A' && r[0] <= 'Z' {
			r[0] += 'a' - 'A'
		}
		return hotkey.Key(r[0]), nil
	}
	return 0, fmt.Errorf("%w: no keysym for %s", ErrUnknownKey, key)
}

// X11Grabber takes passive grabs with XGrabKey so grabbed combinations do
// not reach the focused window. Triggering itself is driven by the evdev
// stream, so keydown notifications from the grab are drained and dropped.
type X11Grabber struct {
	log *logging.Logger

	mu   sync.Mutex
	held map[string]*hotkey.Hotkey
}

// NewX11Grabber returns an empty grabber.
func NewX11Grabber(log *logging.Logger) *X11Grabber {
	return &X11Grabber{log: log, held: make(map[string]*hotkey.Hotkey)}
}

// Grab registers mods+key.
func (g *X11Grabber) Grab(mods []keys.Key, key string) error {
	ks, err := keysymFor(key)
	if err != nil {
		return err
	}
	var hm []hotkey.Modifier
	for _, m := range mods {
		if x, ok := grabModifiers[m]; ok {
			hm = append(hm, x)
		}
	}
	id := keys.FormatHotkey(mods, key)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[id]; ok {
		return nil
	}
	hk := hotkey.New(hm, ks)
	if err := hk.Register(); err != nil {
		return err
	}
	go func() {
		for range hk.Keydown() {
		}
	}()
	g.held[id] = hk
	return nil
}

// Ungrab releases mods+key.
func (g *X11Grabber) Ungrab(mods []keys.Key, key string) error {
	id := keys.FormatHotkey(mods, key)
	g.mu.Lock()
	hk, ok := g.held[id]
	delete(g.held, id)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	return hk.Unregister()
}

// Close releases every grab.
func (g *X11Grabber) Close() {
	g.mu.Lock()
	held := g.held
	g.held = make(map[string]*hotkey.Hotkey)
	g.mu.Unlock()
	for id, hk := range held {
		if err := hk.Unregister(); err != nil {
			g.log.Debug("unregister hotkey", "hotkey", id, "error", err)
		}
	}
}
