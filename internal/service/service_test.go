package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/config"
	"autokeyd/internal/ipc"
	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
	"autokeyd/internal/platform"
	"autokeyd/internal/store"
	"autokeyd/internal/window"
)

// keyCounter is registered after the service, so once it has seen a key the
// service has finished handling it.
type keyCounter struct {
	mu     sync.Mutex
	n      int
	clicks int
}

func (k *keyCounter) HandleKeypress(string, []keys.Key, string, window.Info) {
	k.mu.Lock()
	k.n++
	k.mu.Unlock()
}

func (k *keyCounter) HandleMouseClick(platform.Click) {
	k.mu.Lock()
	k.clicks++
	k.mu.Unlock()
}

func (k *keyCounter) clickCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clicks
}

func (k *keyCounter) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.n
}

type fakeUI struct {
	mu    sync.Mutex
	menus []*Menu
	pick  func(*Menu) model.Item
}

func (u *fakeUI) PopupMenu(_ context.Context, m *Menu) (model.Item, error) {
	u.mu.Lock()
	u.menus = append(u.menus, m)
	pick := u.pick
	u.mu.Unlock()
	if pick == nil {
		return nil, nil
	}
	return pick(m), nil
}

func (u *fakeUI) shown() []*Menu {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*Menu(nil), u.menus...)
}

type harness struct {
	svc   *Service
	fake  *platform.Fake
	ui    *fakeUI
	store *store.Store
	keys  *keyCounter
	seen  int
}

func newHarness(t *testing.T, tweak func(*config.Config), folders ...*model.Folder) *harness {
	t.Helper()
	return newHarnessOn(t, platform.NewFake(), tweak, folders...)
}

func newHarnessOn(t *testing.T, fake *platform.Fake, tweak func(*config.Config), folders ...*model.Folder) *harness {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.ItemsDir = filepath.Join(cfg.Paths.DataDir, "data")
	cfg.Engine.ClipboardRestoreMs = 1
	cfg.Engine.SelectionRestoreMs = 1
	cfg.Engine.KeymapPollSec = 0
	if tweak != nil {
		tweak(cfg)
	}

	h := &harness{fake: fake, ui: &fakeUI{}, store: st, keys: &keyCounter{}}
	h.svc, err = New(cfg, Deps{
		Interface:  h.fake,
		Index:      model.NewIndex(folders...),
		Store:      st,
		UI:         h.ui,
		Logger:     logging.Discard(),
		Version:    "test",
		MenuSettle: -1,
	})
	require.NoError(t, err)
	h.svc.Mediator().AddListener(h.keys)
	require.NoError(t, h.svc.Start(context.Background()))
	t.Cleanup(func() { _ = h.svc.Shutdown() })
	return h
}

// typeText plays s and waits until the service has handled every key.
func (h *harness) typeText(t *testing.T, s string) {
	t.Helper()
	h.fake.Type(s)
	h.seen += len([]rune(s))
	h.wait(t)
}

func (h *harness) press(t *testing.T, k keys.Key) {
	t.Helper()
	h.fake.PressNamed(k)
	h.seen++
	h.wait(t)
}

func (h *harness) chord(t *testing.T, mods []keys.Key, key string) {
	t.Helper()
	h.fake.Chord(mods, key)
	h.seen++
	h.wait(t)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.keys.count() >= h.seen }, 2*time.Second, 2*time.Millisecond)
}

// output returns the synthetic strings and keys, leaving out modifier
// releases that depend on timing.
func (h *harness) output() []string {
	var out []string
	for _, e := range h.fake.Events() {
		if strings.HasPrefix(e, "str:") || strings.HasPrefix(e, "key:") || strings.HasPrefix(e, "mod:") {
			out = append(out, e)
		}
	}
	return out
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func abbrPhrase(t *testing.T, abbr, body string) *model.Phrase {
	t.Helper()
	p := model.NewPhrase(abbr, body)
	require.NoError(t, p.AddAbbreviation(abbr))
	return p
}

func folderWith(title string, items ...model.Item) *model.Folder {
	f := model.NewFolder(title)
	for _, it := range items {
		f.AddItem(it)
	}
	return f
}

func TestAbbreviationExpands(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue Street\nBrisbane")))

	h.typeText(t, "adr ")

	want := append(repeat("key:<backspace>", 4), "str:22 Avenue Street", "key:<enter>", "str:Brisbane ")
	assert.Equal(t, want, h.output())
	assert.Equal(t, 0, h.svc.buffer.Len())
	assert.True(t, h.svc.phrases.CanUndo())
}

func TestImmediateAbbreviation(t *testing.T) {
	p := abbrPhrase(t, "xp@", "expansion@autokey.com")
	p.Abbr.Immediate = true
	h := newHarness(t, nil, folderWith("f", p))

	h.typeText(t, "xp@")

	want := append(repeat("key:<backspace>", 3), "str:expansion@autokey.com")
	assert.Equal(t, want, h.output())
	assert.Equal(t, 0, h.svc.buffer.Len())
	assert.True(t, h.svc.phrases.CanUndo())
}

func TestHotkeyIgnoresBuffer(t *testing.T) {
	p := model.NewPhrase("First phrase", "Hello")
	require.NoError(t, p.SetHotkey([]keys.Key{keys.Control}, "<f7>"))
	h := newHarness(t, nil, folderWith("f", p))
	assert.Equal(t, 1, h.fake.HotkeyGrabs("<ctrl>+<f7>"))

	h.typeText(t, "hello")
	assert.Equal(t, 5, h.svc.buffer.Len())

	h.chord(t, []keys.Key{keys.Control}, "<f7>")

	assert.Equal(t, []string{"str:Hello"}, h.output())
	assert.Equal(t, 0, h.svc.buffer.Len())
}

func TestSpecialKeysLeaveNoUndoRecord(t *testing.T) {
	p := model.NewPhrase("select all", "<ctrl>+a")
	require.NoError(t, p.SetHotkey([]keys.Key{keys.Control}, "<f8>"))
	h := newHarness(t, nil, folderWith("f", p))

	h.chord(t, []keys.Key{keys.Control}, "<f8>")

	assert.Equal(t, []string{"mod:<ctrl>+a"}, h.output())
	assert.False(t, h.svc.phrases.CanUndo())
}

func TestLongestAbbreviationWins(t *testing.T) {
	h := newHarness(t, nil, folderWith("f",
		abbrPhrase(t, "sig", "short"),
		abbrPhrase(t, "signa", "signature"),
	))

	h.typeText(t, "signa ")

	want := append(repeat("key:<backspace>", 6), "str:signature ")
	assert.Equal(t, want, h.output())
	assert.Empty(t, h.ui.shown())
}

func TestWindowFilter(t *testing.T) {
	f := folderWith("terminal", abbrPhrase(t, "ll", "ls -l"))
	require.NoError(t, f.SetWindowFilter(".*Terminal.*", true))
	h := newHarness(t, nil, f)

	h.fake.Win.Set(window.Info{Title: "Web Browser"})
	h.typeText(t, "ll ")
	assert.Empty(t, h.output())

	h.fake.Win.Set(window.Info{Title: "My Terminal"})
	h.typeText(t, "ll ")
	want := append(repeat("key:<backspace>", 3), "str:ls -l ")
	assert.Equal(t, want, h.output())
}

func TestBackspaceUndoesExpansion(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue Street\nBrisbane")))
	h.typeText(t, "adr ")
	h.fake.Reset()

	h.press(t, keys.Backspace)

	// The user's own backspace already removed one of the 26 characters.
	want := append(repeat("key:<backspace>", 25), "str:adr ")
	assert.Equal(t, want, h.output())
	assert.False(t, h.svc.phrases.CanUndo())
}

func TestBackspaceWithoutUndo(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Engine.UndoUsingBackspace = false },
		folderWith("f", abbrPhrase(t, "adr", "22 Avenue")))
	h.typeText(t, "adr ")
	h.fake.Reset()

	h.press(t, keys.Backspace)
	assert.Empty(t, h.output())

	h.typeText(t, "xy")
	h.press(t, keys.Backspace)
	assert.Equal(t, "x", h.svc.buffer.String())
}

func TestTypingForgetsUndoRecord(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue")))
	h.typeText(t, "adr ")
	require.True(t, h.svc.phrases.CanUndo())

	h.typeText(t, "x")
	assert.False(t, h.svc.phrases.CanUndo())
}

func TestHotkeyDoesNotReachAbbreviations(t *testing.T) {
	// "a" is both a bare hotkey and an immediate abbreviation.
	hot := model.NewPhrase("hot", "HOT")
	require.NoError(t, hot.SetHotkey(nil, "a"))
	abbr := abbrPhrase(t, "a", "ABBR")
	abbr.Abbr.Immediate = true
	h := newHarness(t, nil, folderWith("f", hot, abbr))

	h.typeText(t, "a")

	assert.Equal(t, []string{"str:HOT"}, h.output())
	assert.Equal(t, 0, h.svc.buffer.Len())
}

func TestStartIsIdempotent(t *testing.T) {
	p := model.NewPhrase("First phrase", "Hello")
	require.NoError(t, p.SetHotkey([]keys.Key{keys.Control}, "<f7>"))
	h := newHarness(t, nil, folderWith("f", p))

	require.NoError(t, h.svc.Start(context.Background()))
	assert.Equal(t, 1, h.fake.HotkeyGrabs("<ctrl>+<f7>"))
	assert.True(t, h.svc.IsRunning())

	h.chord(t, []keys.Key{keys.Control}, "<f7>")
	assert.Equal(t, []string{"str:Hello"}, h.output())
}

func TestShutdownReleasesGrabs(t *testing.T) {
	p := model.NewPhrase("First phrase", "Hello")
	require.NoError(t, p.SetHotkey([]keys.Key{keys.Control}, "<f7>"))
	h := newHarness(t, nil, folderWith("f", p))

	require.NoError(t, h.svc.Shutdown())
	assert.Equal(t, 0, h.fake.HotkeyGrabs("<ctrl>+<f7>"))
	assert.Equal(t, 0, h.fake.HotkeyGrabs("<super>+k"))
	assert.ErrorIs(t, h.svc.Start(context.Background()), ErrNotStarted)
	require.NoError(t, h.svc.Shutdown())
}

func TestPauseStopsExpansion(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue")))
	var states []bool
	var mu sync.Mutex
	h.svc.SetBroadcast(func(ev ipc.EventType, data any) {
		if ev == ipc.EventServiceState {
			mu.Lock()
			states = append(states, data.(ipc.ServiceStateResponse).Running)
			mu.Unlock()
		}
	})

	assert.False(t, h.svc.Pause())
	h.typeText(t, "adr ")
	assert.Empty(t, h.output())

	assert.True(t, h.svc.Toggle())
	h.typeText(t, "adr ")
	assert.NotEmpty(t, h.output())

	mu.Lock()
	assert.Equal(t, []bool{false, true}, states)
	mu.Unlock()
}

func TestHookFailureLeavesMonitoringOff(t *testing.T) {
	fake := platform.NewFake()
	fake.StartErr = errors.New("no readable /dev/input/event*")
	h := newHarnessOn(t, fake, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue")))

	assert.False(t, h.svc.IsRunning())
	assert.False(t, h.svc.Unpause())
	assert.False(t, h.svc.Toggle())
	assert.False(t, h.svc.IsRunning())

	st := h.svc.Status()
	assert.False(t, st.Running)
	assert.False(t, st.Monitoring)
	assert.Contains(t, st.MonitorError, "/dev/input")
	assert.Equal(t, 1, st.Items)
}

func TestToggleHotkeyWorksWhilePaused(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, 1, h.fake.HotkeyGrabs("<shift>+<super>+k"))
	h.svc.Pause()

	h.chord(t, []keys.Key{keys.Super, keys.Shift}, "k")
	assert.True(t, h.svc.IsRunning())

	h.chord(t, []keys.Key{keys.Super, keys.Shift}, "k")
	assert.False(t, h.svc.IsRunning())
}

func TestDisabledModifiersAreIgnored(t *testing.T) {
	p := model.NewPhrase("First phrase", "Hello")
	require.NoError(t, p.SetHotkey(nil, "<f7>"))
	h := newHarness(t, func(c *config.Config) { c.Engine.DisabledModifiers = []string{"<super>"} },
		folderWith("f", p))

	h.chord(t, []keys.Key{keys.Super}, "<f7>")
	assert.Equal(t, []string{"str:Hello"}, h.output())
}

func TestMouseClickClearsBuffer(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue")))

	h.typeText(t, "ad")
	h.fake.ClickButton(keystroke.ButtonLeft)
	h.typeText(t, "r ")

	assert.Empty(t, h.output())
	assert.Equal(t, "r ", h.svc.buffer.String())
}

func TestClickDuringSendDropsUndoRecord(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", abbrPhrase(t, "adr", "22 Avenue")))
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.fake.SendHook = func(s string) {
		if strings.HasPrefix(s, "22 Avenue") {
			once.Do(func() {
				close(started)
				<-release
			})
		}
	}

	h.fake.Type("adr ")
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("expansion was not sent")
	}
	h.fake.ClickButton(keystroke.ButtonLeft)
	close(release)

	require.Eventually(t, func() bool { return h.keys.clickCount() == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.False(t, h.svc.phrases.CanUndo())
	assert.Equal(t, append(repeat("key:<backspace>", 4), "str:22 Avenue "), h.output())
}

func TestAmbiguousAbbreviationShowsMenu(t *testing.T) {
	first := abbrPhrase(t, "hi", "hello")
	second := abbrPhrase(t, "hi", "hi there")
	second.Description = "hi there"
	h := newHarness(t, nil, folderWith("f", first, second))
	h.ui.pick = func(m *Menu) model.Item { return m.Entries[len(m.Entries)-1].Item }

	h.typeText(t, "hi ")

	require.Eventually(t, func() bool { return len(h.output()) == 4 }, 2*time.Second, 5*time.Millisecond)
	menus := h.ui.shown()
	require.Len(t, menus, 1)
	assert.Len(t, menus[0].Entries, 2)

	picked := menus[0].Entries[1].Item.(*model.Phrase)
	want := append(repeat("key:<backspace>", 3), "str:"+picked.Body+" ")
	assert.Equal(t, want, h.output())
}

func TestShowMenuHotkey(t *testing.T) {
	h := newHarness(t, nil, folderWith("Work", model.NewPhrase("sig", "Regards")), folderWith("Home"))

	h.chord(t, []keys.Key{keys.Super}, "k")

	require.Eventually(t, func() bool { return len(h.ui.shown()) == 1 }, 2*time.Second, 5*time.Millisecond)
	m := h.ui.shown()[0]
	assert.Equal(t, MenuTitle, m.Title)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "Work/", m.Entries[0].Label)
	require.NotNil(t, m.Entries[0].Sub)
	assert.Equal(t, "sig", m.Entries[0].Sub.Entries[0].Label)
}

func TestRunPhrase(t *testing.T) {
	h := newHarness(t, nil, folderWith("f", model.NewPhrase("greeting", "Good morning")))
	ctx := context.Background()

	require.NoError(t, h.svc.RunPhrase(ctx, "greeting"))
	assert.Equal(t, []string{"str:Good morning"}, h.output())

	err := h.svc.RunPhrase(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	st := h.svc.Status()
	assert.Equal(t, int64(len("Good morning")), st.CharsSaved)
	assert.Equal(t, 1, st.Items)
	assert.True(t, st.Running)
}

func TestRunFolderShowsContents(t *testing.T) {
	h := newHarness(t, nil, folderWith("Work", model.NewPhrase("sig", "Regards")))
	h.ui.pick = func(m *Menu) model.Item { return m.Entries[0].Item }

	require.NoError(t, h.svc.RunFolder(context.Background(), "Work"))
	require.Eventually(t, func() bool { return len(h.output()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"str:Regards"}, h.output())
	assert.Equal(t, "Work", h.ui.shown()[0].Title)

	assert.ErrorIs(t, h.svc.RunFolder(context.Background(), "nope"), model.ErrNotFound)
}

func TestHotkeyCreatedAndRemoved(t *testing.T) {
	h := newHarness(t, nil, folderWith("f"))
	p := model.NewPhrase("new", "x")
	require.NoError(t, p.SetHotkey([]keys.Key{keys.Alt}, "n"))

	h.svc.HotkeyCreated(p)
	h.svc.HotkeyCreated(p)
	assert.Equal(t, 1, h.fake.HotkeyGrabs("<alt>+n"))

	h.svc.HotkeyRemoved(p)
	assert.Equal(t, 0, h.fake.HotkeyGrabs("<alt>+n"))
}

func TestTreeChangesAreSavedAndReloaded(t *testing.T) {
	f := folderWith("Work")
	h := newHarness(t, nil, f)

	require.NoError(t, h.svc.idx.Update(func() error {
		f.AddItem(model.NewPhrase("sig", "Regards"))
		return nil
	}))
	dir := h.svc.Config().Paths.ItemsDir
	_, err := os.Stat(filepath.Join(dir, "Work"))
	require.NoError(t, err)

	folders, items, warnings, err := h.svc.ReloadTree()
	require.NoError(t, err)
	assert.Equal(t, 1, folders)
	assert.Equal(t, 1, items)
	assert.Empty(t, warnings)

	require.NoError(t, h.svc.RunPhrase(context.Background(), "sig"))
	assert.Equal(t, []string{"str:Regards"}, h.output())
}

func TestGlobalsSeededOnce(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Script.Globals = map[string]string{"name": "Ada"} })
	v, err := h.store.Global("name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)

	require.NoError(t, h.store.SetGlobal("name", "Grace"))
	h.svc.seedGlobals(h.svc.Config())
	v, err = h.store.Global("name")
	require.NoError(t, err)
	assert.Equal(t, "Grace", v)
}
