package platform

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/window"
)

// Options selects the backends a System is assembled from. Nil fields are
// filled with the defaults for the detected display server.
type Options struct {
	Display  window.DisplayServer
	Hook     keystroke.Hook
	Keymap   *keystroke.Keymap
	Windows  window.Manager
	Injector Injector
	// NewInjector builds the injector when Injector is nil. It defaults to
	// XTest on X11 and uinput elsewhere.
	NewInjector func(window.DisplayServer, *keystroke.Keymap) (Injector, error)
	Pointer     Pointer
	Clipboard   Clipboard
	Grabber     HotkeyGrabber
	// ProbeTTL bounds how stale the window info attached to an event may be.
	ProbeTTL time.Duration
	// KeyDelay is slept between synthesized keys for applications that drop
	// fast input.
	KeyDelay time.Duration
	Logger   *logging.Logger
}

// System is the desktop-backed Interface.
type System struct {
	hook      keystroke.Hook
	keymap    *keystroke.Keymap
	windows   window.Manager
	probe     *window.Cached
	injector  Injector
	pointer   Pointer
	clipboard Clipboard
	grabber   HotkeyGrabber
	keyDelay  time.Duration
	log       *logging.Logger

	// injectErr is set when no injector could be opened; Start then
	// refuses to monitor.
	injectErr error

	grabbed  atomic.Bool
	receiver atomic.Pointer[receiverBox]

	mu      sync.Mutex
	hotkeys map[string]int
}

type receiverBox struct{ r Receiver }

// New assembles a System.
func New(opts Options) (*System, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Component("platform")
	}
	if opts.Display == "" {
		opts.Display = window.DetectDisplayServer()
	}
	if opts.Hook == nil {
		opts.Hook = keystroke.New()
	}
	excludeOwnDevice(opts.Hook)
	if opts.Keymap == nil {
		opts.Keymap = keystroke.NewUSKeymap()
	}
	if opts.Windows == nil {
		w, err := window.New(opts.Display)
		if err != nil {
			opts.Logger.Warn("window probe unavailable, window filters will only see empty titles", "display", opts.Display, "error", err)
			w = &window.Static{}
		}
		opts.Windows = w
	}
	var injectErr error
	if opts.Injector == nil {
		if opts.NewInjector == nil {
			opts.NewInjector = defaultInjector
		}
		inj, err := opts.NewInjector(opts.Display, opts.Keymap)
		if err != nil {
			opts.Logger.Warn("keystroke injection unavailable, phrases cannot be typed", "display", opts.Display, "error", err)
			injectErr = err
			inj = nullInjector{err: err}
		}
		opts.Injector = inj
	}
	if opts.Pointer == nil {
		opts.Pointer = defaultPointer()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = NewSystemClipboard()
	}
	if opts.Grabber == nil {
		opts.Grabber = defaultGrabber(opts.Display, opts.Logger)
	}
	if opts.ProbeTTL == 0 {
		opts.ProbeTTL = 150 * time.Millisecond
	}

	return &System{
		hook:      opts.Hook,
		keymap:    opts.Keymap,
		windows:   opts.Windows,
		probe:     &window.Cached{Prober: opts.Windows, TTL: opts.ProbeTTL},
		injector:  opts.Injector,
		pointer:   opts.Pointer,
		clipboard: opts.Clipboard,
		grabber:   opts.Grabber,
		keyDelay:  opts.KeyDelay,
		log:       opts.Logger,
		injectErr: injectErr,
		hotkeys:   make(map[string]int),
	}, nil
}

// Keymap exposes the keymap so the caller can watch for layout changes.
func (s *System) Keymap() *keystroke.Keymap {
	return s.keymap
}

// InjectorErr returns why keystroke injection is unavailable, or nil.
func (s *System) InjectorErr() error {
	return s.injectErr
}

// Start attaches the hook and begins delivering events to r. Without an
// injector the hook is not attached: abbreviations typed by the user would
// fire and then fail to send.
func (s *System) Start(ctx context.Context, r Receiver) error {
	if s.injectErr != nil {
		return fmt.Errorf("keystroke injection: %w", s.injectErr)
	}
	if ok, reason := s.hook.Available(); !ok {
		s.log.Error("keyboard hook unavailable", "reason", reason)
	}
	s.receiver.Store(&receiverBox{r})
	if err := s.hook.Start(ctx, s.onEvent); err != nil {
		s.receiver.Store(nil)
		return fmt.Errorf("start keyboard hook: %w", err)
	}
	return nil
}

// Cancel stops event delivery and releases grabs.
func (s *System) Cancel() {
	s.receiver.Store(nil)
	if err := s.hook.Stop(); err != nil {
		s.log.Warn("stop hook", "error", err)
	}
	s.grabber.Close()
	if err := s.injector.Close(); err != nil {
		s.log.Warn("close injector", "error", err)
	}
}

func (s *System) onEvent(ev keystroke.Event) {
	box := s.receiver.Load()
	if box == nil {
		return
	}
	r := box.r

	if ev.IsButton() {
		if ev.Action != keystroke.Press {
			return
		}
		x, y := s.pointer.Location()
		s.probe.Invalidate()
		r.HandleMouseClick(Click{X: x, Y: y, Button: ev.Button, Window: s.WindowInfo(context.Background())})
		return
	}

	if mod, ok := keystroke.ModifierForCode(ev.Code); ok {
		switch ev.Action {
		case keystroke.Press:
			r.HandleModifierDown(mod)
		case keystroke.Release:
			r.HandleModifierUp(mod)
		}
		return
	}

	if ev.Action == keystroke.Release || s.grabbed.Load() {
		return
	}
	r.HandleKeypress(ev.Code, s.WindowInfo(context.Background()))
}

// GrabKeyboard suppresses keypress delivery while synthetic output is sent.
func (s *System) GrabKeyboard() {
	s.grabbed.Store(true)
}

// UngrabKeyboard resumes keypress delivery.
func (s *System) UngrabKeyboard() {
	s.grabbed.Store(false)
}

// GrabHotkey registers h globally. Two items sharing a combination in
// different window scopes share one grab.
func (s *System) GrabHotkey(h HotkeyBinding) error {
	mods, key := h.HotkeyModifiers(), h.HotkeyKey()
	id := keys.FormatHotkey(mods, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hotkeys[id] == 0 {
		if err := s.grabber.Grab(mods, key); err != nil {
			return fmt.Errorf("grab %s: %w", id, err)
		}
	}
	s.hotkeys[id]++
	return nil
}

// UngrabHotkey releases a grab taken by GrabHotkey.
func (s *System) UngrabHotkey(h HotkeyBinding) {
	mods, key := h.HotkeyModifiers(), h.HotkeyKey()
	id := keys.FormatHotkey(mods, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hotkeys[id] == 0 {
		return
	}
	s.hotkeys[id]--
	if s.hotkeys[id] > 0 {
		return
	}
	delete(s.hotkeys, id)
	if err := s.grabber.Ungrab(mods, key); err != nil {
		s.log.Warn("ungrab hotkey", "hotkey", id, "error", err)
	}
}

// LookupString translates a keycode under the given modifier state.
func (s *System) LookupString(code uint16, shifted, numLock, altGr bool) string {
	return s.keymap.Lookup(code, shifted, numLock, altGr)
}

func (s *System) pause() {
	if s.keyDelay > 0 {
		time.Sleep(s.keyDelay)
	}
}

// SendString types s literally; key tokens are not interpreted here.
func (s *System) SendString(str string) error {
	if s.keyDelay <= 0 {
		return s.injector.Type(str)
	}
	for _, r := range str {
		if err := s.injector.Type(string(r)); err != nil {
			return err
		}
		s.pause()
	}
	return nil
}

// SendKey taps one key token or character.
func (s *System) SendKey(key string) error {
	defer s.pause()
	return s.injector.Tap(keys.Normalize(key), nil)
}

// SendModifiedKey taps key while mods are held.
func (s *System) SendModifiedKey(key string, mods []keys.Key) error {
	defer s.pause()
	return s.injector.Tap(keys.Normalize(key), mods)
}

// PressKey sends a key-down.
func (s *System) PressKey(key string) error {
	return s.injector.Down(keys.Normalize(key))
}

// ReleaseKey sends a key-up.
func (s *System) ReleaseKey(key string) error {
	return s.injector.Up(keys.Normalize(key))
}

// FakeKeypress sends a full press and release of key.
func (s *System) FakeKeypress(key string) error {
	return s.SendKey(key)
}

// SendStringClipboard puts str on the clipboard and pastes it with
// pasteCommand (e.g. "<ctrl>+v"). The returned func restores the previous
// clipboard contents.
func (s *System) SendStringClipboard(str, pasteCommand string) (func(), error) {
	mods, key, ok := keys.ParseHotkey(pasteCommand)
	if !ok {
		return nil, fmt.Errorf("invalid paste command %q", pasteCommand)
	}
	backup, err := s.clipboard.Text()
	if err != nil {
		s.log.Debug("clipboard backup failed, restoring to empty", "error", err)
		backup = ""
	}
	if err := s.clipboard.SetText(str); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClipboard, err)
	}
	if err := s.SendModifiedKey(key, mods); err != nil {
		return nil, err
	}
	return func() {
		if err := s.clipboard.SetText(backup); err != nil {
			s.log.Warn("restore clipboard", "error", err)
		}
	}, nil
}

// SendStringSelection puts str in the primary selection and middle-clicks.
func (s *System) SendStringSelection(str string) (func(), error) {
	backup, err := s.clipboard.Selection()
	if err != nil {
		backup = ""
	}
	if err := s.clipboard.SetSelection(str); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClipboard, err)
	}
	if err := s.ClickMiddleMouseButton(); err != nil {
		return nil, err
	}
	return func() {
		if err := s.clipboard.SetSelection(backup); err != nil {
			s.log.Warn("restore selection", "error", err)
		}
	}, nil
}

// ClickMiddleMouseButton clicks at the current pointer position.
func (s *System) ClickMiddleMouseButton() error {
	return s.pointer.Click(keystroke.ButtonMiddle)
}

// WindowInfo returns the active window, or an empty Info when it cannot be
// determined.
func (s *System) WindowInfo(ctx context.Context) window.Info {
	info, err := s.probe.Active(ctx)
	if err != nil {
		s.log.Debug("window probe failed", "error", err)
		return window.Info{}
	}
	return info
}

// Clipboard returns the clipboard backend.
func (s *System) Clipboard() Clipboard { return s.clipboard }

// Pointer returns the pointer backend.
func (s *System) Pointer() Pointer { return s.pointer }

// Windows returns the window manager backend.
func (s *System) Windows() window.Manager { return s.windows }
