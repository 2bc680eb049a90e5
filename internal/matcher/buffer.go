// Package matcher decides which items fire for a keypress: the input buffer,
// the hotkey lookup and the two-pass abbreviation search.
package matcher

import (
	"sync"

	"autokeyd/internal/keys"
)

// MaxBuffer is the number of runes of recent input kept for matching.
const MaxBuffer = 150

// Buffer is a bounded FIFO of recently typed characters. The oldest rune is
// dropped when the buffer is full.
type Buffer struct {
	mu    sync.Mutex
	runes []rune
	max   int
}

// NewBuffer returns an empty buffer holding at most max runes; max <= 0
// uses MaxBuffer.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = MaxBuffer
	}
	return &Buffer{runes: make([]rune, 0, max), max: max}
}

// Append adds the runes of s.
func (b *Buffer) Append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range s {
		if len(b.runes) == b.max {
			copy(b.runes, b.runes[1:])
			b.runes = b.runes[:len(b.runes)-1]
		}
		b.runes = append(b.runes, r)
	}
}

// Pop removes the newest rune, if any.
func (b *Buffer) Pop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.runes); n > 0 {
		b.runes = b.runes[:n-1]
	}
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.runes = b.runes[:0]
	b.mu.Unlock()
}

// Len is the number of runes held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runes)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.runes)
}

// Snapshot returns the contents and clears the buffer in one step.
func (b *Buffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := string(b.runes)
	b.runes = b.runes[:0]
	return s
}

// Edit is what a keypress does to the buffer.
type Edit int

const (
	// EditAppend adds the typed character.
	EditAppend Edit = iota
	// EditBackspace removes the newest character, or undoes the last
	// expansion when undo is enabled.
	EditBackspace
	// EditClear drops the buffer: the key was modified or is not a character.
	EditClear
	// EditReset is EditClear that also forgets the last expansion.
	EditReset
)

// Classify maps a translated keypress to its buffer edit. Any modifier
// other than Shift on its own makes the key a command, not text.
func Classify(mods []keys.Key, key string) Edit {
	if len(mods) > 1 || (len(mods) == 1 && mods[0] != keys.Shift) {
		return EditClear
	}
	switch {
	case key == string(keys.Backspace):
		return EditBackspace
	case keys.IsPrintable(key):
		return EditAppend
	case key == string(keys.Space), key == string(keys.Enter), key == string(keys.Tab):
		return EditAppend
	}
	return EditReset
}

var typedText = map[string]string{
	string(keys.Space): " ",
	string(keys.Enter): "\n",
	string(keys.Tab):   "\t",
}

// Apply performs e on b; Enter and Tab are stored as \n and \t.
func (b *Buffer) Apply(e Edit, key string) Edit {
	switch e {
	case EditAppend:
		if text, ok := typedText[key]; ok {
			key = text
		}
		b.Append(key)
	case EditBackspace:
		b.Pop()
	case EditClear, EditReset:
		b.Clear()
	}
	return e
}
