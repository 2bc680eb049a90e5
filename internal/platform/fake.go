package platform

import (
	"context"
	"fmt"
	"sync"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/window"
)

// Fake is an in-memory Interface. Every synthetic action is appended to an
// event log, and the Type/Press helpers play hardware input into the
// registered Receiver.
type Fake struct {
	Keymap *keystroke.Keymap
	Clip   *MemoryClipboard
	Win    *window.Static

	// ClipboardErr, when set, makes clipboard sends fail.
	ClipboardErr error
	// StartErr, when set, is returned by Start and no receiver is attached.
	StartErr error
	// SendHook, when set, is called with every literal string before it is
	// recorded.
	SendHook func(s string)

	mu       sync.Mutex
	events   []string
	receiver Receiver
	grabbed  bool
	grabs    map[string]int
	x, y     int
}

// NewFake returns a Fake with the US layout.
func NewFake() *Fake {
	return &Fake{
		Keymap: keystroke.NewUSKeymap(),
		Clip:   &MemoryClipboard{},
		Win:    &window.Static{},
		grabs:  make(map[string]int),
	}
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	f.events = append(f.events, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// Events returns a copy of the event log.
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// Reset clears the event log.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

// Grabbed reports whether the keyboard is currently grabbed.
func (f *Fake) Grabbed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grabbed
}

// HotkeyGrabs returns the grab count for a formatted hotkey.
func (f *Fake) HotkeyGrabs(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grabs[id]
}

func (f *Fake) Start(_ context.Context, r Receiver) error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	f.receiver = r
	f.mu.Unlock()
	return nil
}

func (f *Fake) Cancel() {
	f.mu.Lock()
	f.receiver = nil
	f.mu.Unlock()
}

func (f *Fake) GrabKeyboard() {
	f.mu.Lock()
	f.grabbed = true
	f.mu.Unlock()
}

func (f *Fake) UngrabKeyboard() {
	f.mu.Lock()
	f.grabbed = false
	f.mu.Unlock()
}

func (f *Fake) GrabHotkey(h HotkeyBinding) error {
	f.mu.Lock()
	f.grabs[keys.FormatHotkey(h.HotkeyModifiers(), h.HotkeyKey())]++
	f.mu.Unlock()
	return nil
}

func (f *Fake) UngrabHotkey(h HotkeyBinding) {
	id := keys.FormatHotkey(h.HotkeyModifiers(), h.HotkeyKey())
	f.mu.Lock()
	if f.grabs[id] > 0 {
		f.grabs[id]--
	}
	f.mu.Unlock()
}

func (f *Fake) LookupString(code uint16, shifted, numLock, altGr bool) string {
	return f.Keymap.Lookup(code, shifted, numLock, altGr)
}

func (f *Fake) SendString(s string) error {
	if f.SendHook != nil {
		f.SendHook(s)
	}
	f.record("str:%s", s)
	return nil
}

func (f *Fake) SendKey(key string) error {
	f.record("key:%s", key)
	return nil
}

func (f *Fake) SendModifiedKey(key string, mods []keys.Key) error {
	f.record("mod:%s", keys.FormatHotkey(mods, key))
	return nil
}

func (f *Fake) PressKey(key string) error {
	f.record("press:%s", key)
	return nil
}

func (f *Fake) ReleaseKey(key string) error {
	f.record("release:%s", key)
	return nil
}

func (f *Fake) FakeKeypress(key string) error {
	f.record("fake:%s", key)
	return nil
}

func (f *Fake) SendStringClipboard(s, pasteCommand string) (func(), error) {
	if f.ClipboardErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrClipboard, f.ClipboardErr)
	}
	backup, _ := f.Clip.Text()
	_ = f.Clip.SetText(s)
	f.record("clip:%s:%s", pasteCommand, s)
	return func() {
		_ = f.Clip.SetText(backup)
		f.record("restore:clipboard")
	}, nil
}

func (f *Fake) SendStringSelection(s string) (func(), error) {
	if f.ClipboardErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrClipboard, f.ClipboardErr)
	}
	backup, _ := f.Clip.Selection()
	_ = f.Clip.SetSelection(s)
	f.record("sel:%s", s)
	return func() {
		_ = f.Clip.SetSelection(backup)
		f.record("restore:selection")
	}, nil
}

func (f *Fake) ClickMiddleMouseButton() error {
	f.record("click:center")
	return nil
}

func (f *Fake) WindowInfo(ctx context.Context) window.Info {
	info, _ := f.Win.Active(ctx)
	return info
}

func (f *Fake) Clipboard() Clipboard { return f.Clip }

func (f *Fake) Pointer() Pointer { return fakePointer{f} }

func (f *Fake) Windows() window.Manager { return f.Win }

func (f *Fake) currentReceiver() Receiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiver
}

// Press delivers one hardware keypress of code.
func (f *Fake) Press(code uint16) {
	r := f.currentReceiver()
	if r == nil || f.Grabbed() {
		return
	}
	r.HandleKeypress(code, f.WindowInfo(context.Background()))
}

// PressNamed delivers a named key, e.g. keys.Backspace.
func (f *Fake) PressNamed(k keys.Key) {
	if code, ok := keystroke.CodeForKey(k); ok {
		f.Press(code)
	}
}

// Type plays s as hardware keystrokes, holding shift where the layout
// needs it.
func (f *Fake) Type(s string) {
	r := f.currentReceiver()
	if r == nil {
		return
	}
	for _, ch := range s {
		stroke, ok := f.Keymap.StrokeFor(ch)
		if !ok {
			continue
		}
		shifted := stroke.Level == keystroke.LevelShift
		if shifted {
			r.HandleModifierDown(keys.Shift)
		}
		f.Press(stroke.Code)
		if shifted {
			r.HandleModifierUp(keys.Shift)
		}
	}
}

// Chord holds mods, presses key and releases mods.
func (f *Fake) Chord(mods []keys.Key, key string) {
	r := f.currentReceiver()
	if r == nil {
		return
	}
	for _, m := range mods {
		r.HandleModifierDown(m)
	}
	if code, ok := keystroke.CodeForKey(keys.Key(key)); ok {
		f.Press(code)
	} else if rs := []rune(key); len(rs) == 1 {
		if stroke, ok := f.Keymap.StrokeFor(rs[0]); ok {
			f.Press(stroke.Code)
		}
	}
	for _, m := range mods {
		r.HandleModifierUp(m)
	}
}

// ClickButton delivers a mouse click.
func (f *Fake) ClickButton(b keystroke.Button) {
	if r := f.currentReceiver(); r != nil {
		r.HandleMouseClick(Click{Button: b, Window: f.WindowInfo(context.Background())})
	}
}

type fakePointer struct{ f *Fake }

func (p fakePointer) Click(b keystroke.Button) error {
	p.f.record("click:%s", b)
	return nil
}

func (p fakePointer) ClickAt(x, y int, b keystroke.Button) error {
	p.f.record("click:%s@%d,%d", b, x, y)
	return nil
}

func (p fakePointer) Move(x, y int) error {
	p.f.mu.Lock()
	p.f.x, p.f.y = x, y
	p.f.mu.Unlock()
	p.f.record("move:%d,%d", x, y)
	return nil
}

func (p fakePointer) Scroll(dx, dy int) error {
	p.f.record("scroll:%d,%d", dx, dy)
	return nil
}

func (p fakePointer) Location() (int, int) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.f.x, p.f.y
}
