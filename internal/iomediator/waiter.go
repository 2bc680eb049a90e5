package iomediator

import (
	"context"
	"sync"
	"time"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/platform"
	"autokeyd/internal/window"
)

// KeyCheck is an extra predicate a Waiter can fire on.
type KeyCheck func(rawKey string, mods []keys.Key, key string, win window.Info) bool

// Waiter is a temporary listener that fires once on a matching key or
// button.
type Waiter struct {
	rawKey string
	mods   []keys.Key
	button keystroke.Button
	check  KeyCheck

	once  sync.Once
	fired chan struct{}
}

// NewKeyWaiter fires on rawKey pressed with exactly mods held, or when
// check returns true.
func NewKeyWaiter(rawKey string, mods []keys.Key, check KeyCheck) *Waiter {
	return &Waiter{
		rawKey: keys.Normalize(rawKey),
		mods:   keys.SortModifiers(mods),
		check:  check,
		fired:  make(chan struct{}),
	}
}

// NewClickWaiter fires on a press of button.
func NewClickWaiter(button keystroke.Button) *Waiter {
	return &Waiter{button: button, fired: make(chan struct{})}
}

func (w *Waiter) fire() {
	w.once.Do(func() { close(w.fired) })
}

func (w *Waiter) HandleKeypress(rawKey string, mods []keys.Key, key string, win window.Info) {
	if w.rawKey != "" && rawKey == w.rawKey && keys.EqualModifiers(mods, w.mods) {
		w.fire()
		return
	}
	if w.check != nil && w.check(rawKey, mods, key, win) {
		w.fire()
	}
}

func (w *Waiter) HandleMouseClick(click platform.Click) {
	if w.button != 0 && click.Button == w.button {
		w.fire()
	}
}

// Fired is closed once the waiter has matched.
func (w *Waiter) Fired() <-chan struct{} {
	return w.fired
}

// Wait registers w with m, blocks until it fires, the timeout passes or ctx
// ends, and unregisters it. It reports whether the waiter fired.
func (m *Mediator) Wait(ctx context.Context, w *Waiter, timeout time.Duration) bool {
	m.AddListener(w)
	defer m.RemoveListener(w)

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-w.fired:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

// WaitForKeypress blocks until rawKey is pressed with mods held.
func (m *Mediator) WaitForKeypress(ctx context.Context, rawKey string, mods []keys.Key, timeout time.Duration) bool {
	return m.Wait(ctx, NewKeyWaiter(rawKey, mods, nil), timeout)
}

// WaitForClick blocks until button is pressed.
func (m *Mediator) WaitForClick(ctx context.Context, button keystroke.Button, timeout time.Duration) bool {
	return m.Wait(ctx, NewClickWaiter(button), timeout)
}
