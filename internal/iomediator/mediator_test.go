package iomediator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/platform"
	"autokeyd/internal/window"
)

type keyEvent struct {
	raw  string
	mods []keys.Key
	key  string
	win  window.Info
}

type recorder struct {
	mu     sync.Mutex
	keys   []keyEvent
	clicks []platform.Click
	onKey  func(keyEvent)
}

func (r *recorder) HandleKeypress(raw string, mods []keys.Key, key string, win window.Info) {
	ev := keyEvent{raw, mods, key, win}
	r.mu.Lock()
	r.keys = append(r.keys, ev)
	hook := r.onKey
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) HandleMouseClick(c platform.Click) {
	r.mu.Lock()
	r.clicks = append(r.clicks, c)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []keyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]keyEvent(nil), r.keys...)
}

func newMediator(t *testing.T) (*Mediator, *platform.Fake) {
	t.Helper()
	fake := platform.NewFake()
	m := New(fake, Options{
		ClipboardRestoreDelay: time.Millisecond,
		SelectionRestoreDelay: time.Millisecond,
		JoinTimeout:           2 * time.Second,
		Logger:                logging.Discard(),
	})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, fake
}

func waitKeys(t *testing.T, r *recorder, n int) []keyEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestModifierAccounting(t *testing.T) {
	m, _ := newMediator(t)

	m.HandleModifierDown(keys.CapsLock)
	m.HandleModifierUp(keys.CapsLock)
	m.HandleModifierDown(keys.Shift)
	m.HandleModifierDown(keys.NumLock)
	m.HandleModifierDown(keys.NumLock)
	m.HandleModifierDown(keys.Control)
	m.HandleModifierUp(keys.Control)

	state := m.ModifierState()
	assert.True(t, state[keys.CapsLock])
	assert.False(t, state[keys.NumLock])
	assert.True(t, state[keys.Shift])
	assert.False(t, state[keys.Control])

	m.HandleModifierDown(keys.CapsLock)
	assert.False(t, m.ModifierState()[keys.CapsLock])
}

func TestKeypressTranslation(t *testing.T) {
	m, fake := newMediator(t)
	rec := &recorder{}
	m.AddListener(rec)
	fake.Win.Set(window.Info{Title: "My Terminal", Class: "xterm.XTerm"})

	fake.Type("aB")
	got := waitKeys(t, rec, 2)

	assert.Equal(t, "a", got[0].raw)
	assert.Equal(t, "a", got[0].key)
	assert.Empty(t, got[0].mods)
	assert.Equal(t, "My Terminal", got[0].win.Title)

	assert.Equal(t, "b", got[1].raw)
	assert.Equal(t, "B", got[1].key)
	assert.Equal(t, []keys.Key{keys.Shift}, got[1].mods)
}

func TestCapsLockInvertsShift(t *testing.T) {
	m, fake := newMediator(t)
	rec := &recorder{}
	m.AddListener(rec)

	m.HandleModifierDown(keys.CapsLock)
	fake.Type("aB")
	got := waitKeys(t, rec, 2)
	assert.Equal(t, "A", got[0].key)
	assert.Equal(t, "b", got[1].key)
}

func TestListenerRemovingItselfDuringDispatch(t *testing.T) {
	m, fake := newMediator(t)
	first := &recorder{}
	second := &recorder{}
	first.onKey = func(keyEvent) { m.RemoveListener(first) }
	m.AddListener(first)
	m.AddListener(second)

	fake.Type("ab")
	waitKeys(t, second, 2)
	assert.Len(t, first.snapshot(), 1)
}

type panicky struct{}

func (panicky) HandleKeypress(string, []keys.Key, string, window.Info) { panic("boom") }
func (panicky) HandleMouseClick(platform.Click)                        { panic("boom") }

func TestListenerPanicIsContained(t *testing.T) {
	m, fake := newMediator(t)
	rec := &recorder{}
	m.AddListener(panicky{})
	m.AddListener(rec)

	fake.Type("ab")
	fake.ClickButton(keystroke.ButtonLeft)
	waitKeys(t, rec, 2)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.clicks) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClickIsDeliveredAfterEarlierKeys(t *testing.T) {
	m, fake := newMediator(t)
	var order []string
	var mu sync.Mutex
	seen := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	release := make(chan struct{})
	rec := &recorder{onKey: func(ev keyEvent) {
		if ev.key == "a" {
			<-release
		}
		seen("key:" + ev.key)
	}}
	m.AddListener(rec)
	m.AddListener(clickFunc(func(platform.Click) { seen("click") }))

	fake.Type("a")
	fake.ClickButton(keystroke.ButtonLeft)
	fake.Type("b")
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"key:a", "click", "key:b"}, order)
}

type clickFunc func(platform.Click)

func (clickFunc) HandleKeypress(string, []keys.Key, string, window.Info) {}
func (f clickFunc) HandleMouseClick(c platform.Click)                    { f(c) }

func TestSendStringDecomposition(t *testing.T) {
	m, fake := newMediator(t)

	require.NoError(t, m.Send(func() error {
		return m.SendString("<ctrl>+a hi<enter>line\nx\\<b\\>")
	}))
	assert.Equal(t, []string{
		"mod:<ctrl>+a",
		"str: hi",
		"key:<enter>",
		"str:line",
		"key:<enter>",
		"str:x<b>",
	}, fake.Events())
	assert.False(t, fake.Grabbed())
}

func TestSendStringReleasesHeldModifiers(t *testing.T) {
	m, fake := newMediator(t)
	m.HandleModifierDown(keys.Shift)
	m.HandleModifierDown(keys.CapsLock)

	require.NoError(t, m.SendString("x"))
	assert.Equal(t, []string{"release:<shift>", "str:x", "press:<shift>"}, fake.Events())
}

func TestModifierAppliedToLiteralRun(t *testing.T) {
	m, fake := newMediator(t)
	require.NoError(t, m.SendString("<alt>+<shift>+tab"))
	assert.Equal(t, []string{"mod:<alt>+<shift>+t", "str:ab"}, fake.Events())
}

func TestRemoveString(t *testing.T) {
	m, fake := newMediator(t)
	require.NoError(t, m.RemoveString("ab<enter>c"))
	assert.Equal(t, []string{"key:<backspace>", "key:<backspace>", "key:<backspace>"}, fake.Events())
}

func TestPasteStringRestoresOnWorker(t *testing.T) {
	m, fake := newMediator(t)
	require.NoError(t, fake.Clip.SetText("old"))

	require.NoError(t, m.Send(func() error {
		if err := m.PasteString("new", "<ctrl>+v"); err != nil {
			return err
		}
		text, _ := fake.Clip.Text()
		assert.Equal(t, "new", text)
		return m.PasteString("sel", PasteSelection)
	}))
	require.NoError(t, m.Shutdown())

	text, _ := fake.Clip.Text()
	assert.Equal(t, "old", text)
	assert.Equal(t, []string{
		"clip:<ctrl>+v:new",
		"sel:sel",
		"restore:clipboard",
		"restore:selection",
	}, fake.Events())
}

func TestPasteStringClipboardFailure(t *testing.T) {
	m, fake := newMediator(t)
	fake.ClipboardErr = assert.AnError

	err := m.Send(func() error { return m.PasteString("x", "<ctrl>+v") })
	assert.ErrorIs(t, err, platform.ErrClipboard)
	assert.False(t, fake.Grabbed())
}

func TestWaitForKeypress(t *testing.T) {
	m, fake := newMediator(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.Chord([]keys.Key{keys.Control}, "k")
	}()
	assert.True(t, m.WaitForKeypress(context.Background(), "k", []keys.Key{keys.Control}, time.Second))
	assert.False(t, m.WaitForKeypress(context.Background(), "q", nil, 20*time.Millisecond))
}

func TestWaitForClick(t *testing.T) {
	m, fake := newMediator(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.ClickButton(keystroke.ButtonRight)
	}()
	assert.True(t, m.WaitForClick(context.Background(), keystroke.ButtonRight, time.Second))
}

func TestStartAndShutdownAreIdempotent(t *testing.T) {
	m, _ := newMediator(t)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
}
