package window

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fakeRunner(outputs map[string]string) func(context.Context, string, ...string) ([]byte, error) {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		key := strings.TrimSpace(name + " " + strings.Join(args, " "))
		if out, ok := outputs[key]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("not scripted: " + key)
	}
}

func TestParseXprop(t *testing.T) {
	out := `_NET_WM_NAME(UTF8_STRING) = "My Terminal — bash"
WM_NAME(STRING) = "My Terminal"
WM_CLASS(STRING) = "gnome-terminal-server", "Gnome-terminal"
`
	info := parseXprop(out)
	if info.Title != "My Terminal — bash" {
		t.Errorf("Title = %q", info.Title)
	}
	if info.Class != "gnome-terminal-server.Gnome-terminal" {
		t.Errorf("Class = %q", info.Class)
	}
}

func TestX11ActiveFallsBackToXprop(t *testing.T) {
	x := &X11Manager{Run: fakeRunner(map[string]string{
		"xprop -root _NET_ACTIVE_WINDOW":                    "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007\n",
		"xprop -id 0x3a00007 _NET_WM_NAME WM_NAME WM_CLASS": "WM_NAME(STRING) = \"Web Browser\"\nWM_CLASS(STRING) = \"navigator\", \"Firefox\"\n",
	})}
	info, err := x.Active(context.Background())
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if info.Title != "Web Browser" || info.Class != "navigator.Firefox" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestX11ActiveWithXdotool(t *testing.T) {
	x := &X11Manager{Run: fakeRunner(map[string]string{
		"xdotool getactivewindow":                           "60817415\n",
		"xprop -id 0x3a00007 _NET_WM_NAME WM_NAME WM_CLASS": "WM_NAME(STRING) = \"Editor\"\n",
	})}
	info, err := x.Active(context.Background())
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if info.Title != "Editor" {
		t.Errorf("Title = %q", info.Title)
	}
}

func TestParseWmctrl(t *testing.T) {
	out := "0x03a00007  0 10   52   1910 1018 laptop My Terminal\n" +
		"0x04000003 -1 0    0    1920 32   laptop Top Bar\n" +
		"garbage line\n"
	windows := parseWmctrl(out)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	w := windows[0]
	if w.ID != "0x03a00007" || w.X != 10 || w.Y != 52 || w.Width != 1910 || w.Height != 1018 {
		t.Errorf("unexpected geometry %+v", w)
	}
	if w.Title != "My Terminal" || w.Host != "laptop" {
		t.Errorf("unexpected title/host %+v", w)
	}
	if windows[1].Desktop != -1 {
		t.Errorf("sticky window desktop = %d", windows[1].Desktop)
	}
}

func TestX11ActiveGeometry(t *testing.T) {
	x := &X11Manager{Run: fakeRunner(map[string]string{
		"xdotool getactivewindow": "60817415\n",
		"wmctrl -lG":              "0x03a00007  0 10   52   1910 1018 laptop My Terminal\n",
	})}
	g, err := x.ActiveGeometry(context.Background())
	if err != nil {
		t.Fatalf("ActiveGeometry: %v", err)
	}
	if g != (Geometry{10, 52, 1910, 1018}) {
		t.Errorf("geometry = %+v", g)
	}
}

type countingProber struct{ n int }

func (c *countingProber) Active(context.Context) (Info, error) {
	c.n++
	return Info{Title: "t"}, nil
}

func TestCachedProber(t *testing.T) {
	inner := &countingProber{}
	c := &Cached{Prober: inner, TTL: time.Hour}
	for i := 0; i < 5; i++ {
		if _, err := c.Active(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if inner.n != 1 {
		t.Errorf("probe ran %d times, want 1", inner.n)
	}
	c.Invalidate()
	c.Active(context.Background())
	if inner.n != 2 {
		t.Errorf("probe ran %d times after invalidate, want 2", inner.n)
	}
}

func TestDetectDisplayServer(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")
	t.Setenv("DISPLAY", ":0")
	if got := DetectDisplayServer(); got != X11 {
		t.Errorf("XWayland session detected as %s", got)
	}
	t.Setenv("DISPLAY", "")
	if got := DetectDisplayServer(); got != Wayland {
		t.Errorf("pure Wayland detected as %s", got)
	}
	t.Setenv("WAYLAND_DISPLAY", "")
	if got := DetectDisplayServer(); got != Unknown {
		t.Errorf("headless detected as %s", got)
	}
}

func TestStaticActivate(t *testing.T) {
	s := &Static{Windows: []Window{{ID: "1", Title: "My Terminal", Class: "term.Term"}}}
	if err := s.Activate(context.Background(), "terminal", false); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	info, _ := s.Active(context.Background())
	if info.Class != "term.Term" {
		t.Errorf("active = %+v", info)
	}
	if err := s.Activate(context.Background(), "nope", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
