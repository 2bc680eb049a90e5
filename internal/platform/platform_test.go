package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/window"
)

type recordingInjector struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInjector) add(s string) error {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
	return nil
}

func (r *recordingInjector) Type(s string) error { return r.add("type " + s) }
func (r *recordingInjector) Tap(key string, mods []keys.Key) error {
	return r.add("tap " + keys.FormatHotkey(mods, key))
}
func (r *recordingInjector) Down(key string) error { return r.add("down " + key) }
func (r *recordingInjector) Up(key string) error   { return r.add("up " + key) }
func (r *recordingInjector) Close() error          { return nil }

type failingClipboard struct{ MemoryClipboard }

func (*failingClipboard) SetText(string) error { return errors.New("no xclip") }

type recordingReceiver struct {
	mu      sync.Mutex
	presses []uint16
	wins    []window.Info
	mods    []string
	clicks  []Click
}

func (r *recordingReceiver) HandleKeypress(code uint16, win window.Info) {
	r.mu.Lock()
	r.presses = append(r.presses, code)
	r.wins = append(r.wins, win)
	r.mu.Unlock()
}

func (r *recordingReceiver) HandleModifierDown(m keys.Key) {
	r.mu.Lock()
	r.mods = append(r.mods, "down "+string(m))
	r.mu.Unlock()
}

func (r *recordingReceiver) HandleModifierUp(m keys.Key) {
	r.mu.Lock()
	r.mods = append(r.mods, "up "+string(m))
	r.mu.Unlock()
}

func (r *recordingReceiver) HandleMouseClick(c Click) {
	r.mu.Lock()
	r.clicks = append(r.clicks, c)
	r.mu.Unlock()
}

func newTestSystem(t *testing.T, clip Clipboard) (*System, *keystroke.SimulatedHook, *recordingInjector, *window.Static) {
	t.Helper()
	hook := keystroke.NewSimulated()
	inj := &recordingInjector{}
	win := &window.Static{Info: window.Info{Title: "Terminal", Class: "xterm.XTerm"}}
	if clip == nil {
		clip = &MemoryClipboard{}
	}
	sys, err := New(Options{
		Display:   window.X11,
		Hook:      hook,
		Windows:   win,
		Injector:  inj,
		Pointer:   nullPointer{},
		Clipboard: clip,
		Grabber:   NewRecordingGrabber(nil),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return sys, hook, inj, win
}

func TestSystemDeliversEvents(t *testing.T) {
	sys, hook, _, _ := newTestSystem(t, nil)
	rec := &recordingReceiver{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sys.Start(ctx, rec))

	a, ok := sys.Keymap().StrokeFor('a')
	require.True(t, ok)

	hook.Press(keystroke.KeyLeftShift)
	hook.Tap(a.Code)
	hook.Release(keystroke.KeyLeftShift)

	assert.Equal(t, []uint16{a.Code}, rec.presses)
	assert.Equal(t, "xterm.XTerm", rec.wins[0].Class)
	assert.Equal(t, []string{"down <shift>", "up <shift>"}, rec.mods)
}

func TestSystemGrabDropsKeypresses(t *testing.T) {
	sys, hook, _, _ := newTestSystem(t, nil)
	rec := &recordingReceiver{}
	require.NoError(t, sys.Start(context.Background(), rec))
	defer sys.Cancel()

	sys.GrabKeyboard()
	hook.Tap(keystroke.KeyBackspace)
	hook.Press(keystroke.KeyLeftCtrl)
	sys.UngrabKeyboard()
	hook.Tap(keystroke.KeyBackspace)

	assert.Equal(t, []uint16{keystroke.KeyBackspace}, rec.presses)
	assert.Equal(t, []string{"down <ctrl>"}, rec.mods)
}

func TestSystemMouseClick(t *testing.T) {
	sys, hook, _, _ := newTestSystem(t, nil)
	rec := &recordingReceiver{}
	require.NoError(t, sys.Start(context.Background(), rec))
	defer sys.Cancel()

	hook.Click(keystroke.ButtonLeft)
	require.Len(t, rec.clicks, 1)
	assert.Equal(t, keystroke.ButtonLeft, rec.clicks[0].Button)
	assert.Equal(t, "Terminal", rec.clicks[0].Window.Title)
}

type binding struct {
	mods []keys.Key
	key  string
}

func (b binding) HotkeyModifiers() []keys.Key { return b.mods }
func (b binding) HotkeyKey() string           { return b.key }

func TestSystemHotkeyGrabsAreShared(t *testing.T) {
	sys, _, _, _ := newTestSystem(t, nil)
	grabber := sys.grabber.(*RecordingGrabber)
	h := binding{mods: []keys.Key{keys.Shift, keys.Control}, key: "<f7>"}

	require.NoError(t, sys.GrabHotkey(h))
	require.NoError(t, sys.GrabHotkey(h))
	assert.Equal(t, []string{"<ctrl>+<shift>+<f7>"}, grabber.Held())

	sys.UngrabHotkey(h)
	assert.Len(t, grabber.Held(), 1)
	sys.UngrabHotkey(h)
	assert.Empty(t, grabber.Held())
}

func TestSendStringClipboard(t *testing.T) {
	clip := &MemoryClipboard{}
	require.NoError(t, clip.SetText("previous"))
	sys, _, inj, _ := newTestSystem(t, clip)

	restore, err := sys.SendStringClipboard("hello", "<ctrl>+v")
	require.NoError(t, err)
	got, _ := clip.Text()
	assert.Equal(t, "hello", got)
	assert.Equal(t, []string{"tap <ctrl>+v"}, inj.calls)

	restore()
	got, _ = clip.Text()
	assert.Equal(t, "previous", got)
}

func TestSendStringClipboardErrors(t *testing.T) {
	sys, _, _, _ := newTestSystem(t, &failingClipboard{})
	_, err := sys.SendStringClipboard("x", "<ctrl>+v")
	assert.ErrorIs(t, err, ErrClipboard)

	sys, _, _, _ = newTestSystem(t, nil)
	_, err = sys.SendStringClipboard("x", "<ctrl>+")
	assert.Error(t, err)
}

func TestFakeTypePlaysThroughKeymap(t *testing.T) {
	f := NewFake()
	rec := &recordingReceiver{}
	require.NoError(t, f.Start(context.Background(), rec))

	f.Type("aB")
	require.Len(t, rec.presses, 2)
	assert.Equal(t, "a", f.LookupString(rec.presses[0], false, false, false))
	assert.Equal(t, "B", f.LookupString(rec.presses[1], true, false, false))
	assert.Equal(t, []string{"down <shift>", "up <shift>"}, rec.mods)

	require.NoError(t, f.SendKey("<enter>"))
	assert.Equal(t, []string{"key:<enter>"}, f.Events())
}

func TestMissingInjectorDisablesMonitoring(t *testing.T) {
	hook := keystroke.NewSimulated()
	sys, err := New(Options{
		Display: window.Wayland,
		Hook:    hook,
		Windows: &window.Static{},
		NewInjector: func(window.DisplayServer, *keystroke.Keymap) (Injector, error) {
			return nil, fmt.Errorf("%w: uinput: permission denied", ErrNoInjector)
		},
		Pointer:   nullPointer{},
		Clipboard: &MemoryClipboard{},
		Grabber:   NewRecordingGrabber(nil),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, sys.InjectorErr(), ErrNoInjector)
	assert.ErrorIs(t, sys.SendString("hi"), ErrNoInjector)

	rec := &recordingReceiver{}
	assert.ErrorIs(t, sys.Start(context.Background(), rec), ErrNoInjector)
	hook.Tap(keystroke.KeyBackspace)
	assert.Empty(t, rec.presses)
	sys.Cancel()
}
