package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokeyd/internal/dialog"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
)

func TestSnapshotMenuOrdersByUsage(t *testing.T) {
	rare := model.NewPhrase("alpha", "a")
	often := model.NewPhrase("beta", "b")
	often.UsageCount = 3
	sub := folderWith("Sub", model.NewPhrase("gamma", "g"))

	m := snapshotMenu("top", []*model.Folder{sub}, []model.Item{rare, often}, false)

	require.Len(t, m.Entries, 3)
	assert.Equal(t, "Sub/", m.Entries[0].Label)
	assert.Equal(t, "gamma", m.Entries[0].Sub.Entries[0].Label)
	assert.Equal(t, "beta", m.Entries[1].Label)
	assert.Equal(t, "alpha", m.Entries[2].Label)
}

func TestLabelByInitial(t *testing.T) {
	entries := []MenuEntry{
		{Label: "Address"},
		{Label: "apology"},
		{Label: "Bye"},
		{Label: "--"},
	}
	labelByInitial(entries)

	var got []string
	for _, e := range entries {
		got = append(got, e.Label)
	}
	assert.Equal(t, []string{"a) Address", "1) apology", "b) Bye", "2) --"}, got)
}

func TestDialogMenuDescendsIntoFolders(t *testing.T) {
	item := model.NewPhrase("sig", "Regards")
	menu := snapshotMenu("top", []*model.Folder{folderWith("Work", item)}, nil, false)

	var calls [][]string
	picks := []string{"Work/", "sig"}
	d := &DialogMenu{
		Dialogs: &dialog.Dialogs{
			Toolkit: dialog.Zenity,
			Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
				calls = append(calls, args)
				out := picks[0]
				picks = picks[1:]
				return []byte(out + "\n"), nil
			},
		},
		Log: logging.Discard(),
	}

	got, err := d.PopupMenu(context.Background(), menu)
	require.NoError(t, err)
	assert.Same(t, item, got)
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], MenuTitle)
	assert.Contains(t, calls[1], "Work")
}

func TestLogMenuPicksNothing(t *testing.T) {
	m := snapshotMenu("top", nil, []model.Item{model.NewPhrase("x", "y")}, false)
	got, err := LogMenu{Log: logging.Discard()}.PopupMenu(context.Background(), m)
	require.NoError(t, err)
	assert.Nil(t, got)
}
