// Package window answers "which window has focus" and performs the window
// operations scripts ask for.
//
// X11 sessions (including XWayland) use xdotool, xprop and wmctrl. GNOME on
// Wayland goes through the AutoKey GNOME Shell extension on the session bus.
package window

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

// Info identifies the focused window for trigger filtering.
type Info struct {
	Title string `json:"title"`
	// Class is "instance.Class" from WM_CLASS, e.g. "gnome-terminal-server.Gnome-terminal".
	Class string `json:"class"`
}

// Window is one entry of a window list.
type Window struct {
	ID      string `json:"id"`
	Desktop int    `json:"desktop"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Host    string `json:"host,omitempty"`
	Title   string `json:"title"`
	Class   string `json:"class,omitempty"`
	Focused bool   `json:"focused,omitempty"`
}

// Geometry is a window's position and size.
type Geometry struct {
	X, Y, Width, Height int
}

// Prober reports the active window.
type Prober interface {
	Active(ctx context.Context) (Info, error)
}

// Manager performs window operations. Windows are addressed by title
// substring or, with byID, by the backend's window identifier.
type Manager interface {
	Prober
	List(ctx context.Context) ([]Window, error)
	Activate(ctx context.Context, title string, byID bool) error
	Close(ctx context.Context, title string, byID bool) error
	MoveResize(ctx context.Context, title string, g Geometry, byID bool) error
	ActiveGeometry(ctx context.Context) (Geometry, error)
}

var (
	// ErrUnsupported is returned when the display server offers no way to
	// perform an operation.
	ErrUnsupported = errors.New("operation not supported on this display server")

	// ErrNotFound is returned when no window matches.
	ErrNotFound = errors.New("window not found")
)

// DisplayServer is "x11", "wayland" or "unknown".
type DisplayServer string

const (
	X11     DisplayServer = "x11"
	Wayland DisplayServer = "wayland"
	Unknown DisplayServer = "unknown"
)

// DetectDisplayServer determines if we're running on X11 or Wayland. A
// session with both variables set is XWayland and the X tools work.
func DetectDisplayServer() DisplayServer {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if os.Getenv("DISPLAY") != "" {
			return X11
		}
		return Wayland
	}
	if os.Getenv("DISPLAY") != "" {
		return X11
	}
	return Unknown
}

// Cached wraps a Prober and reuses its answer for ttl. Keystrokes arrive far
// faster than focus changes and each probe forks helper processes.
type Cached struct {
	Prober Prober
	TTL    time.Duration

	mu   sync.Mutex
	last Info
	at   time.Time
}

// Active returns the cached answer when fresh.
func (c *Cached) Active(ctx context.Context) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() && time.Since(c.at) < c.TTL {
		return c.last, nil
	}
	info, err := c.Prober.Active(ctx)
	if err != nil {
		return Info{}, err
	}
	c.last, c.at = info, time.Now()
	return info, nil
}

// Invalidate drops the cached answer.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.at = time.Time{}
	c.mu.Unlock()
}

// Static is a fixed-answer Manager for tests and headless use.
type Static struct {
	mu      sync.Mutex
	Info    Info
	Windows []Window
	Calls   []string
}

// Set changes the reported active window.
func (s *Static) Set(info Info) {
	s.mu.Lock()
	s.Info = info
	s.mu.Unlock()
}

func (s *Static) record(call string) {
	s.mu.Lock()
	s.Calls = append(s.Calls, call)
	s.mu.Unlock()
}

// Active returns the configured Info.
func (s *Static) Active(context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Info, nil
}

// List returns the configured windows.
func (s *Static) List(context.Context) ([]Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Window(nil), s.Windows...), nil
}

// Activate focuses the first matching window.
func (s *Static) Activate(ctx context.Context, title string, byID bool) error {
	s.record("activate " + title)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.Windows {
		if matches(w, title, byID) {
			s.Info = Info{Title: w.Title, Class: w.Class}
			return nil
		}
	}
	return ErrNotFound
}

// Close records the call.
func (s *Static) Close(_ context.Context, title string, _ bool) error {
	s.record("close " + title)
	return nil
}

// MoveResize records the call.
func (s *Static) MoveResize(_ context.Context, title string, _ Geometry, _ bool) error {
	s.record("move " + title)
	return nil
}

// ActiveGeometry returns the geometry of the window matching the active title.
func (s *Static) ActiveGeometry(context.Context) (Geometry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.Windows {
		if w.Title == s.Info.Title {
			return Geometry{w.X, w.Y, w.Width, w.Height}, nil
		}
	}
	return Geometry{}, ErrNotFound
}

func matches(w Window, title string, byID bool) bool {
	if byID {
		return w.ID == title
	}
	return containsFold(w.Title, title)
}

// New returns the manager for the given display server.
func New(display DisplayServer) (Manager, error) {
	switch display {
	case X11:
		return &X11Manager{}, nil
	case Wayland:
		return NewGnome()
	default:
		return nil, ErrUnsupported
	}
}
