package platform

import (
	"sync"

	"autokeyd/internal/keys"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
)

// RecordingGrabber remembers grabs without asking the display server.
// Wayland compositors do not allow global grabs, so hotkeys still fire from
// the evdev stream but the focused window also sees them.
type RecordingGrabber struct {
	log *logging.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewRecordingGrabber returns an empty grabber.
func NewRecordingGrabber(log *logging.Logger) *RecordingGrabber {
	return &RecordingGrabber{log: log, held: make(map[string]struct{})}
}

func (g *RecordingGrabber) Grab(mods []keys.Key, key string) error {
	id := keys.FormatHotkey(mods, key)
	g.mu.Lock()
	g.held[id] = struct{}{}
	g.mu.Unlock()
	if g.log != nil {
		g.log.Debug("hotkey registered without grab", "hotkey", id)
	}
	return nil
}

func (g *RecordingGrabber) Ungrab(mods []keys.Key, key string) error {
	g.mu.Lock()
	delete(g.held, keys.FormatHotkey(mods, key))
	g.mu.Unlock()
	return nil
}

func (g *RecordingGrabber) Close() {
	g.mu.Lock()
	g.held = make(map[string]struct{})
	g.mu.Unlock()
}

// Held returns the registered combinations.
func (g *RecordingGrabber) Held() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.held))
	for id := range g.held {
		out = append(out, id)
	}
	return out
}

// nullPointer is used where no pointer backend exists.
type nullPointer struct{}

func (nullPointer) Click(keystroke.Button) error             { return ErrNoInjector }
func (nullPointer) ClickAt(int, int, keystroke.Button) error { return ErrNoInjector }
func (nullPointer) Move(int, int) error                      { return ErrNoInjector }
func (nullPointer) Scroll(int, int) error                    { return ErrNoInjector }
func (nullPointer) Location() (int, int)                     { return 0, 0 }

// nullInjector stands in when no injection backend could be opened. Every
// call reports the original failure.
type nullInjector struct{ err error }

func (n nullInjector) Type(string) error            { return n.err }
func (n nullInjector) Tap(string, []keys.Key) error { return n.err }
func (n nullInjector) Down(string) error            { return n.err }
func (n nullInjector) Up(string) error              { return n.err }
func (nullInjector) Close() error                   { return nil }
