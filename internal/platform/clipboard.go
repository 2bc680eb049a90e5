package platform

import "sync"

// MemoryClipboard is an in-process clipboard for tests and headless runs.
type MemoryClipboard struct {
	mu        sync.Mutex
	text      string
	selection string
}

func (m *MemoryClipboard) Text() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *MemoryClipboard) SetText(s string) error {
	m.mu.Lock()
	m.text = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryClipboard) Selection() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection, nil
}

func (m *MemoryClipboard) SetSelection(s string) error {
	m.mu.Lock()
	m.selection = s
	m.mu.Unlock()
	return nil
}
