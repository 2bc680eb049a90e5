package matcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/keys"
	"autokeyd/internal/model"
	"autokeyd/internal/window"
)

func phrase(t *testing.T, name string, abbrs ...string) *model.Phrase {
	t.Helper()
	p := model.NewPhrase(name, name+" body")
	if len(abbrs) > 0 {
		require.NoError(t, p.AddAbbreviation(abbrs...))
	}
	return p
}

func TestBufferBounded(t *testing.T) {
	b := NewBuffer(0)
	b.Append(strings.Repeat("a", MaxBuffer))
	b.Append("bc")
	assert.Equal(t, MaxBuffer, b.Len())
	assert.True(t, strings.HasSuffix(b.String(), "abc"))

	b.Pop()
	assert.True(t, strings.HasSuffix(b.String(), "ab"))
	assert.Equal(t, MaxBuffer-1, len(b.Snapshot()))
	assert.Equal(t, 0, b.Len())
	b.Pop()
	assert.Equal(t, "", b.String())
}

func TestBufferRunes(t *testing.T) {
	b := NewBuffer(3)
	b.Append("héllo")
	assert.Equal(t, "llo", b.String())
	b.Clear()
	b.Append("é")
	b.Pop()
	assert.Equal(t, 0, b.Len())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		mods []keys.Key
		key  string
		want Edit
	}{
		{nil, "a", EditAppend},
		{[]keys.Key{keys.Shift}, "A", EditAppend},
		{[]keys.Key{keys.Control}, "a", EditClear},
		{[]keys.Key{keys.Shift, keys.Alt}, "a", EditClear},
		{nil, string(keys.Backspace), EditBackspace},
		{nil, string(keys.Enter), EditAppend},
		{nil, string(keys.Left), EditReset},
		{nil, "<f5>", EditReset},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.mods, tc.key), "%v %q", tc.mods, tc.key)
	}

	b := NewBuffer(0)
	b.Apply(EditAppend, "a")
	b.Apply(EditAppend, string(keys.Enter))
	b.Apply(EditAppend, string(keys.Space))
	assert.Equal(t, "a\n ", b.String())
	b.Apply(EditBackspace, string(keys.Backspace))
	assert.Equal(t, "a\n", b.String())
	b.Apply(EditReset, string(keys.Left))
	assert.Equal(t, 0, b.Len())
}

func TestAbbreviationLongestWins(t *testing.T) {
	f := model.NewFolder("f")
	sig := phrase(t, "sig", "sig")
	signa := phrase(t, "signa", "signa")
	f.AddItem(sig)
	f.AddItem(signa)
	idx := model.NewIndex(f)

	m := Abbreviation(idx, "signa ", window.Info{Title: "Editor"})
	assert.Same(t, signa, m.Fire())
	assert.False(t, m.MenuRequired)

	m = Abbreviation(idx, "sig ", window.Info{Title: "Editor"})
	assert.Same(t, sig, m.Fire())
}

func TestAbbreviationWindowFilter(t *testing.T) {
	f := model.NewFolder("terminal")
	require.NoError(t, f.SetWindowFilter(".*Terminal.*", true))
	ll := phrase(t, "ll", "ll")
	f.AddItem(ll)
	idx := model.NewIndex(f)

	assert.True(t, Abbreviation(idx, "ll ", window.Info{Title: "Web Browser"}).Empty())
	assert.Same(t, ll, Abbreviation(idx, "ll ", window.Info{Title: "My Terminal"}).Fire())
}

func TestAbbreviationImmediatePass(t *testing.T) {
	f := model.NewFolder("f")
	xp := phrase(t, "xp", "xp@")
	xp.Abbr.Immediate = true
	f.AddItem(xp)
	idx := model.NewIndex(f)

	m := Abbreviation(idx, "mail xp@", window.Info{})
	assert.Same(t, xp, m.Fire())

	xp.Prompt = true
	m = Abbreviation(idx, "mail xp@", window.Info{})
	assert.Nil(t, m.Fire())
	assert.True(t, m.MenuRequired)
	assert.Equal(t, []model.Item{xp}, m.Items)
}

func TestAbbreviationFoldersOnlyWithoutItems(t *testing.T) {
	root := model.NewFolder("root")
	menu := model.NewFolder("menu")
	require.NoError(t, menu.AddAbbreviation("mm"))
	root.AddFolder(menu)
	menu.AddItem(phrase(t, "inside"))
	idx := model.NewIndex(root)

	m := Abbreviation(idx, "mm ", window.Info{})
	assert.True(t, m.MenuRequired)
	assert.Equal(t, []*model.Folder{menu}, m.Folders)
	assert.Nil(t, m.Fire())

	item := phrase(t, "item", "mm")
	root.AddItem(item)
	idx.ConfigAltered(false)
	m = Abbreviation(idx, "mm ", window.Info{})
	assert.Empty(t, m.Folders)
	assert.Same(t, item, m.Fire())
}

func TestAbbreviationSeveralItemsNeedMenu(t *testing.T) {
	a := phrase(t, "a", "dup")
	b := phrase(t, "b", "dup")
	require.NoError(t, b.SetWindowFilter("Editor", false))
	f := model.NewFolder("f")
	f.AddItem(a)
	f.AddItem(b)
	idx := model.NewIndex(f)

	m := Abbreviation(idx, "dup ", window.Info{Title: "Editor"})
	assert.True(t, m.MenuRequired)
	assert.Len(t, m.Items, 2)

	m = Abbreviation(idx, "dup ", window.Info{Title: "Mail"})
	assert.Same(t, a, m.Fire())
}

func TestHotkeyLookup(t *testing.T) {
	f := model.NewFolder("f")
	first := phrase(t, "First phrase")
	require.NoError(t, first.SetHotkey([]keys.Key{keys.Control}, "<f7>"))
	f.AddItem(first)
	hot := model.NewFolder("hot")
	require.NoError(t, hot.SetHotkey([]keys.Key{keys.Super}, "m"))
	f.AddFolder(hot)
	idx := model.NewIndex(f)

	toggle, err := model.NewGlobalHotkey("toggle", []keys.Key{keys.Super, keys.Shift}, "k", nil)
	require.NoError(t, err)
	idx.SetGlobalHotkeys(toggle)

	m := Hotkey(idx, []keys.Key{keys.Control}, "<f7>", window.Info{}, true)
	assert.Same(t, first, m.Fire())

	m = Hotkey(idx, []keys.Key{keys.Super}, "m", window.Info{}, true)
	assert.True(t, m.MenuRequired)
	assert.Equal(t, []*model.Folder{hot}, m.Folders)

	m = Hotkey(idx, []keys.Key{keys.Control}, "<f7>", window.Info{}, false)
	assert.True(t, m.Empty())

	m = Hotkey(idx, []keys.Key{keys.Shift, keys.Super}, "k", window.Info{}, false)
	assert.Same(t, toggle, m.Global)

	first.Prompt = true
	m = Hotkey(idx, []keys.Key{keys.Control}, "<f7>", window.Info{}, true)
	assert.True(t, m.MenuRequired)
	assert.Equal(t, []model.Item{first}, m.Items)
}
