//go:build linux

package platform

import (
	"sync"

	"github.com/atotto/clipboard"
)

// SystemClipboard reads and writes the CLIPBOARD and PRIMARY selections
// through xclip, xsel or wl-clipboard, whichever is installed.
type SystemClipboard struct {
	// clipboard.Primary is a package global; every access flips it under mu.
	mu sync.Mutex
}

// NewSystemClipboard returns a clipboard backed by the desktop tools.
func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{}
}

func (c *SystemClipboard) use(primary bool, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clipboard.Primary = primary
	defer func() { clipboard.Primary = false }()
	if clipboard.Unsupported {
		return ErrClipboard
	}
	return fn()
}

// Text returns the CLIPBOARD contents.
func (c *SystemClipboard) Text() (s string, err error) {
	err = c.use(false, func() error {
		s, err = clipboard.ReadAll()
		return err
	})
	return s, err
}

// SetText replaces the CLIPBOARD contents.
func (c *SystemClipboard) SetText(s string) error {
	return c.use(false, func() error { return clipboard.WriteAll(s) })
}

// Selection returns the PRIMARY selection.
func (c *SystemClipboard) Selection() (s string, err error) {
	err = c.use(true, func() error {
		s, err = clipboard.ReadAll()
		return err
	})
	return s, err
}

// SetSelection replaces the PRIMARY selection.
func (c *SystemClipboard) SetSelection(s string) error {
	return c.use(true, func() error { return clipboard.WriteAll(s) })
}
