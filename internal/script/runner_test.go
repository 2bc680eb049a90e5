package script

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/dialog"
	"autokeyd/internal/iomediator"
	"autokeyd/internal/keys"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
	"autokeyd/internal/platform"
	"autokeyd/internal/store"
	"autokeyd/internal/window"
)

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Notify(_ context.Context, summary, body string, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, summary+": "+body)
	return nil
}

func (n *notes) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type env struct {
	r      *Runner
	fake   *platform.Fake
	idx    *model.Index
	store  *store.Store
	notes  *notes
	folder *model.Folder

	mu       sync.Mutex
	commands []string
	created  []model.Node
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fake := platform.NewFake()
	med := iomediator.New(fake, iomediator.Options{
		ClipboardRestoreDelay: time.Millisecond,
		SelectionRestoreDelay: time.Millisecond,
		JoinTimeout:           2 * time.Second,
		Logger:                logging.Discard(),
	})
	require.NoError(t, med.Start(context.Background()))
	t.Cleanup(func() { _ = med.Shutdown() })

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &env{fake: fake, store: st, notes: &notes{}, folder: model.NewFolder("My Phrases")}
	e.idx = model.NewIndex(e.folder)

	exec := func(_ context.Context, name string, args ...string) ([]byte, error) {
		e.mu.Lock()
		e.commands = append(e.commands, name+" "+strings.Join(args, " "))
		e.mu.Unlock()
		if name == "zenity" {
			return []byte("typed\n"), nil
		}
		return []byte("out\n"), nil
	}
	e.r = NewRunner(Deps{
		Mediator: med,
		Index:    e.idx,
		Store:    st,
		Dialogs:  &dialog.Dialogs{Toolkit: dialog.Zenity, Run: exec},
		Notifier: e.notes,
		Exec:     exec,
		HotkeyCreated: func(n model.Node) {
			e.mu.Lock()
			e.created = append(e.created, n)
			e.mu.Unlock()
		},
	}, Options{ErrorRing: 3, Grace: time.Second, Logger: logging.Discard()})
	t.Cleanup(func() { _ = e.r.Close() })
	return e
}

func (e *env) addScript(t *testing.T, name, code string) *model.Script {
	t.Helper()
	s := model.NewScript(name, code)
	require.NoError(t, e.idx.Update(func() error {
		e.folder.AddItem(s)
		return nil
	}))
	return s
}

func (e *env) run(t *testing.T, name string, args ...string) string {
	t.Helper()
	out, err := e.r.RunByName(context.Background(), name, args)
	require.NoError(t, err)
	return out
}

func TestKeyboardSendKeys(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "type", `keyboard.send_keys("hi<enter>")
keyboard.send_key("<left>", 2)`)

	e.run(t, "type")
	assert.Equal(t, []string{"str:hi", "key:<enter>", "key:<left>", "key:<left>"}, e.fake.Events())
	assert.False(t, e.fake.Grabbed())
}

func TestReturnValueAndMacroArguments(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "greet", `engine.set_return_value("hello " .. engine.get_macro_arguments()[1])`)

	out, err := e.r.RunMacro(context.Background(), "greet", []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", out)
}

func TestRunScriptReturnsCalleeValue(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "inner", `local a = engine.get_script_arguments()
engine.set_return_value(a[1] .. a[2])`)
	e.addScript(t, "outer", `engine.set_return_value(engine.run_script("inner", "x", 2))`)

	assert.Equal(t, "x2", e.run(t, "outer"))
}

func TestRunScriptIsReentrant(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "count", `local n = tonumber(engine.get_script_arguments()[1] or "0")
if n < 3 then
  engine.set_return_value(engine.run_script("count", n + 1))
else
  engine.set_return_value(n)
end`)

	done := make(chan string, 1)
	go func() {
		out, _ := e.r.RunByName(context.Background(), "count", nil)
		done <- out
	}()
	select {
	case out := <-done:
		assert.Equal(t, "3", out)
	case <-time.After(2 * time.Second):
		t.Fatal("recursive run_script deadlocked")
	}
}

func TestErrorsAreRecorded(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "bad", `error("boom")`)

	_, err := e.r.RunByName(context.Background(), "bad", nil)
	var scriptErr *Error
	require.True(t, errors.As(err, &scriptErr))
	assert.Equal(t, "bad", scriptErr.Script)
	assert.Contains(t, scriptErr.Message, "boom")

	require.Len(t, e.r.Errors(), 1)
	assert.Equal(t, 1, e.notes.count())

	persisted, err := e.store.ScriptErrors()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Contains(t, persisted[0].Message, "boom")

	require.NoError(t, e.r.ClearErrors())
	assert.Empty(t, e.r.Errors())
}

func TestErrorRingIsBounded(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "bad", `error("again")`)
	for i := 0; i < 5; i++ {
		_, _ = e.r.RunByName(context.Background(), "bad", nil)
	}
	assert.Len(t, e.r.Errors(), 3)
	persisted, err := e.store.ScriptErrors()
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestSandbox(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "probe", `engine.set_return_value(tostring(io == nil and os == nil and dofile == nil and load == nil))`)
	assert.Equal(t, "true", e.run(t, "probe"))

	e.addScript(t, "escape", `dofile("/etc/passwd")`)
	_, err := e.r.RunByName(context.Background(), "escape", nil)
	assert.Error(t, err)
}

func TestStoreModule(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "counter", `local n = store.get_value("n") or 0
store.set_value("n", n + 1)
store.set_global_value("last", {by = "counter", n = n + 1})
engine.set_return_value(n + 1)`)

	assert.Equal(t, "1", e.run(t, "counter"))
	assert.Equal(t, "2", e.run(t, "counter"))

	v, err := e.store.Global("last")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"by": "counter", "n": float64(2)}, v)

	e.addScript(t, "other", `engine.set_return_value(tostring(store.has_key("n")))`)
	assert.Equal(t, "false", e.run(t, "other"), "stores are per script")
}

func TestCreatePhrase(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "make", `local f = engine.get_folder("My Phrases")
local p = engine.create_phrase(f, "sig", "Regards", {abbreviations = {"sg"}, temporary = true})
engine.set_return_value(p.name)`)

	assert.Equal(t, "sig", e.run(t, "make"))
	var abbrs []string
	e.idx.Read(func() {
		for _, it := range e.idx.Abbreviations() {
			abbrs = append(abbrs, it.Base().Abbr.Abbreviations...)
		}
	})
	assert.Equal(t, []string{"sg"}, abbrs)

	_, err := e.r.RunByName(context.Background(), "make", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `abbreviation "sg" is already used by "sig"`)

	e.addScript(t, "cleanup", `engine.remove_all_temporary()`)
	e.run(t, "cleanup")
	e.idx.Read(func() { assert.Empty(t, e.idx.Abbreviations()) })
}

func TestCreateHotkeyNotifiesGrab(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "hk", `engine.create_hotkey(engine.get_folder("My Phrases"), "hk", {"<ctrl>"}, "h", "x")`)
	e.run(t, "hk")

	require.Len(t, e.created, 1)
	assert.Equal(t, []keys.Key{keys.Control}, e.created[0].Base().Hotkey.Modifiers)
	assert.Equal(t, "h", e.created[0].Base().Hotkey.Key)
}

func TestTemporaryFolderNeedsTemporaryChildren(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "folders", `local tmp = engine.create_folder("tmp", nil, true)
engine.create_folder("sub", tmp, false)`)

	_, err := e.r.RunByName(context.Background(), "folders", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), model.ErrTemporaryParent.Error())

	e.addScript(t, "again", `local a = engine.create_folder("tmp")
local b = engine.create_folder("tmp")
engine.set_return_value(tostring(a.id == b.id))`)
	assert.Equal(t, "true", e.run(t, "again"))
}

func TestExecuteErasesAndRetypesTrigger(t *testing.T) {
	e := newEnv(t)
	s := e.addScript(t, "triggered", `local a, t = engine.get_triggered_abbreviation()
store.set_global_value("seen", a .. "|" .. t)`)
	require.NoError(t, s.AddAbbreviation("ab"))

	e.r.Execute(s, "ab ")
	require.True(t, e.r.Wait(2*time.Second))

	assert.Equal(t, []string{"key:<backspace>", "key:<backspace>", "key:<backspace>", "str: "}, e.fake.Events())
	v, err := e.store.Global("seen")
	require.NoError(t, err)
	assert.Equal(t, "ab| ", v)
	assert.Equal(t, 1, s.UsageCount)
}

func TestClipboardAndWindow(t *testing.T) {
	e := newEnv(t)
	e.fake.Win.Set(window.Info{Title: "Editor", Class: "ed.Ed"})
	e.addScript(t, "cw", `clipboard.fill_clipboard("c")
engine.set_return_value(window.get_active_title() .. ":" .. window.get_active_class() .. ":" .. clipboard.get_clipboard())`)

	assert.Equal(t, "Editor:ed.Ed:c", e.run(t, "cw"))
}

func TestSystemAndDialog(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "ask", `local code, text = dialog.input_dialog("T", "M")
engine.set_return_value(system.exec_command("echo hi") .. code .. text)`)

	assert.Equal(t, "out0typed", e.run(t, "ask"))
	assert.Contains(t, e.commands, "sh -c echo hi")
}

func TestUnknownScript(t *testing.T) {
	e := newEnv(t)
	_, err := e.r.RunByName(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNoScript)
}

func TestClosedRunnerRefusesRuns(t *testing.T) {
	e := newEnv(t)
	e.addScript(t, "noop", ``)
	require.NoError(t, e.r.Close())
	_, err := e.r.RunByName(context.Background(), "noop", nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestRing(t *testing.T) {
	r := NewRing(2)
	for _, m := range []string{"a", "b", "c"} {
		r.Add(Error{Message: m})
	}
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Message)
	assert.Equal(t, "c", list[1].Message)
}
