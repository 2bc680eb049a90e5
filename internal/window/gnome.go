package window

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
)

// GNOME Shell extension endpoint.
const (
	gnomeBusName   = "org.gnome.Shell"
	gnomeObject    = dbus.ObjectPath("/org/gnome/Shell/Extensions/AutoKey")
	gnomeInterface = "org.gnome.Shell.Extensions.AutoKey"
)

// gnomeWindow is one element of the extension's List() JSON.
type gnomeWindow struct {
	ID      uint64 `json:"id"`
	Class   string `json:"wm_class"`
	Title   string `json:"wm_title"`
	Focus   bool   `json:"focus"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Desktop int    `json:"workspace"`
}

// Gnome implements Manager through the GNOME Shell extension, the only way
// to inspect windows under a GNOME Wayland session.
type Gnome struct {
	mu   sync.Mutex
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewGnome connects to the session bus and checks the extension responds.
func NewGnome() (*Gnome, error) {
	g := &Gnome{}
	if err := g.connect(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gnome) connect() error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	obj := conn.Object(gnomeBusName, gnomeObject)
	var version string
	if err := obj.Call(gnomeInterface+".CheckVersion", 0).Store(&version); err != nil {
		return fmt.Errorf("gnome shell extension not reachable: %w", err)
	}
	g.conn, g.obj = conn, obj
	return nil
}

// call invokes method, reconnecting once if the shell restarted.
func (g *Gnome) call(ctx context.Context, method string, out any, args ...any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	do := func() error {
		c := g.obj.CallWithContext(ctx, gnomeInterface+"."+method, 0, args...)
		if c.Err != nil {
			return c.Err
		}
		if out != nil {
			return c.Store(out)
		}
		return nil
	}
	if err := do(); err != nil {
		if rerr := g.connect(); rerr != nil {
			return err
		}
		return do()
	}
	return nil
}

func (g *Gnome) list(ctx context.Context) ([]gnomeWindow, error) {
	var raw string
	if err := g.call(ctx, "List", &raw); err != nil {
		return nil, err
	}
	var windows []gnomeWindow
	if err := json.Unmarshal([]byte(raw), &windows); err != nil {
		return nil, fmt.Errorf("decode window list: %w", err)
	}
	return windows, nil
}

// Active returns the focused window.
func (g *Gnome) Active(ctx context.Context) (Info, error) {
	windows, err := g.list(ctx)
	if err != nil {
		return Info{}, err
	}
	for _, w := range windows {
		if w.Focus {
			return Info{Title: w.Title, Class: w.Class}, nil
		}
	}
	return Info{}, ErrNotFound
}

// List returns all windows.
func (g *Gnome) List(ctx context.Context) ([]Window, error) {
	windows, err := g.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		out = append(out, Window{
			ID:      strconv.FormatUint(w.ID, 10),
			Desktop: w.Desktop,
			X:       w.X,
			Y:       w.Y,
			Width:   w.Width,
			Height:  w.Height,
			Title:   w.Title,
			Class:   w.Class,
			Focused: w.Focus,
		})
	}
	return out, nil
}

func (g *Gnome) find(ctx context.Context, title string, byID bool) (uint64, error) {
	windows, err := g.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range windows {
		if matches(w, title, byID) {
			return strconv.ParseUint(w.ID, 10, 64)
		}
	}
	return 0, ErrNotFound
}

// Activate focuses the window.
func (g *Gnome) Activate(ctx context.Context, title string, byID bool) error {
	id, err := g.find(ctx, title, byID)
	if err != nil {
		return err
	}
	return g.call(ctx, "Activate", nil, id)
}

// Close closes the window.
func (g *Gnome) Close(ctx context.Context, title string, byID bool) error {
	id, err := g.find(ctx, title, byID)
	if err != nil {
		return err
	}
	return g.call(ctx, "Close", nil, id)
}

// MoveResize moves then resizes the window.
func (g *Gnome) MoveResize(ctx context.Context, title string, geo Geometry, byID bool) error {
	id, err := g.find(ctx, title, byID)
	if err != nil {
		return err
	}
	if err := g.call(ctx, "Move", nil, id, int32(geo.X), int32(geo.Y)); err != nil {
		return err
	}
	return g.call(ctx, "Resize", nil, id, int32(geo.Width), int32(geo.Height))
}

// ActiveGeometry returns the focused window's geometry.
func (g *Gnome) ActiveGeometry(ctx context.Context) (Geometry, error) {
	windows, err := g.list(ctx)
	if err != nil {
		return Geometry{}, err
	}
	for _, w := range windows {
		if w.Focus {
			return Geometry{w.X, w.Y, w.Width, w.Height}, nil
		}
	}
	return Geometry{}, ErrNotFound
}

// MouseLocation returns the pointer position, which Wayland hides from
// ordinary clients.
func (g *Gnome) MouseLocation(ctx context.Context) (int, int, error) {
	var pos []int32
	if err := g.call(ctx, "GetMouseLocation", &pos); err != nil {
		return 0, 0, err
	}
	if len(pos) != 2 {
		return 0, 0, fmt.Errorf("unexpected mouse location %v", pos)
	}
	return int(pos[0]), int(pos[1]), nil
}
