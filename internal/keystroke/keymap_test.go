package keystroke

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xmodmapDE = `keycode   9 = Escape NoSymbol Escape
keycode  10 = 1 exclam 1 exclam onesuperior exclamdown
keycode  22 = BackSpace BackSpace BackSpace BackSpace
keycode  23 = Tab ISO_Left_Tab Tab ISO_Left_Tab
keycode  24 = q Q q Q at Greek_OMEGA
keycode  29 = z Z z Z leftarrow yen
keycode  34 = udiaeresis Udiaeresis udiaeresis Udiaeresis diaeresis degree
keycode  36 = Return NoSymbol Return
keycode  38 = a A a A ae AE
keycode  65 = space NoSymbol space
keycode  26 = e E e E EuroSign EuroSign
`

func TestUSKeymapLookup(t *testing.T) {
	km := NewUSKeymap()
	assert.Equal(t, "a", km.Lookup(30, false, false, false))
	assert.Equal(t, "A", km.Lookup(30, true, false, false))
	assert.Equal(t, "!", km.Lookup(2, true, false, false))
	assert.Equal(t, " ", km.Lookup(KeySpace, false, false, false))
	assert.Equal(t, "<enter>", km.Lookup(KeyEnter, false, false, false))
	assert.Equal(t, "<backspace>", km.Lookup(KeyBackspace, true, false, false))
	assert.Equal(t, "<f5>", km.Lookup(KeyF1+4, false, false, false))
	assert.Equal(t, "", km.Lookup(KeyLeftShift, false, false, false))
}

func TestKeypadFollowsNumLock(t *testing.T) {
	km := NewUSKeymap()
	assert.Equal(t, "7", km.Lookup(KeyKP7, false, true, false))
	assert.Equal(t, "<np_home>", km.Lookup(KeyKP7, false, false, false))
	assert.Equal(t, "<np_home>", km.Lookup(KeyKP7, true, true, false))
}

func TestParseXmodmap(t *testing.T) {
	table, err := ParseXmodmap(strings.NewReader(xmodmapDE))
	require.NoError(t, err)

	km := NewUSKeymap()
	km.Replace("de", table)

	assert.Equal(t, "de", km.Layout())
	assert.Equal(t, "ü", km.Lookup(26, false, false, false))
	assert.Equal(t, "Ü", km.Lookup(26, true, false, false))
	assert.Equal(t, "z", km.Lookup(21, false, false, false))
	assert.Equal(t, "@", km.Lookup(16, false, false, true))
	assert.Equal(t, "€", km.Lookup(18, false, false, true))
	assert.Equal(t, "<enter>", km.Lookup(KeyEnter, false, false, false))

	s, ok := km.StrokeFor('@')
	require.True(t, ok)
	assert.Equal(t, Stroke{Code: 16, Level: LevelAltGr}, s)

	s, ok = km.StrokeFor('Q')
	require.True(t, ok)
	assert.Equal(t, Stroke{Code: 16, Level: LevelShift}, s)

	s, ok = km.StrokeFor('\n')
	require.True(t, ok)
	assert.Equal(t, KeyEnter, s.Code)
}

func TestKeysymToString(t *testing.T) {
	assert.Equal(t, "a", KeysymToString("a"))
	assert.Equal(t, "/", KeysymToString("slash"))
	assert.Equal(t, "€", KeysymToString("U20AC"))
	assert.Equal(t, "", KeysymToString("Shift_L"))
	assert.Equal(t, "", KeysymToString("NoSymbol"))
}

func TestRefreshReloadsOnLayoutChange(t *testing.T) {
	layout := "layout:     de\nvariant:    nodeadkeys\n"
	calls := map[string]int{}
	src := LayoutSource{Run: func(_ context.Context, name string, _ ...string) ([]byte, error) {
		calls[name]++
		switch name {
		case "setxkbmap":
			return []byte("rules:      evdev\nmodel:      pc105\n" + layout), nil
		case "xmodmap":
			return []byte(xmodmapDE), nil
		}
		return nil, errors.New("unexpected command")
	}}

	km := NewUSKeymap()
	changed, err := Refresh(context.Background(), km, src)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "de/nodeadkeys", km.Layout())

	changed, err = Refresh(context.Background(), km, src)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, calls["xmodmap"])
}
