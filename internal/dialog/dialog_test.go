package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

func recorder(out string, err error, calls *[]call) func(context.Context, string, ...string) ([]byte, error) {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name, args})
		return []byte(out), err
	}
}

func TestZenityInput(t *testing.T) {
	var calls []call
	d := &Dialogs{Toolkit: Zenity, Run: recorder("hello\n", nil, &calls)}

	res, err := d.Input(context.Background(), "Title", "Say", "hi")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "hello", res.Text)
	require.Len(t, calls, 1)
	assert.Equal(t, "zenity", calls[0].name)
	assert.Equal(t, []string{"--entry", "--title", "Title", "--text", "Say", "--entry-text", "hi"}, calls[0].args)
}

func TestKDialogListMenuMarksInitial(t *testing.T) {
	var calls []call
	d := &Dialogs{Toolkit: KDialog, Run: recorder("b", nil, &calls)}

	res, err := d.ListMenu(context.Background(), "T", "Pick", []string{"a", "b"}, "b", false)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Text)
	assert.Equal(t, "kdialog", calls[0].name)
	assert.Equal(t, []string{"--title", "T", "--radiolist", "Pick", "a", "a", "off", "b", "b", "on"}, calls[0].args)
}

func TestZenityChecklist(t *testing.T) {
	var calls []call
	d := &Dialogs{Toolkit: Zenity, Run: recorder("a\nc\n", nil, &calls)}

	res, err := d.ListMenu(context.Background(), "T", "Pick", []string{"a", "b", "c"}, "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, strings.Split(res.Text, "\n"))
	assert.Contains(t, calls[0].args, "--checklist")
}

func TestHelperFailure(t *testing.T) {
	var calls []call
	d := &Dialogs{Toolkit: Zenity, Run: recorder("", errors.New("zenity: not installed"), &calls)}

	res, err := d.Info(context.Background(), "T", "M")
	assert.Error(t, err)
	assert.False(t, res.OK())
}
