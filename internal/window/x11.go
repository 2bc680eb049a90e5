package window

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"autokeyd/internal/sysexec"
)

// X11Manager implements Manager with xdotool, xprop and wmctrl.
type X11Manager struct {
	Run sysexec.Runner
}

func (x *X11Manager) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := sysexec.OrDefault(x.Run)(ctx, name, args...)
	return string(out), err
}

// Active gets active window info, trying xdotool first.
func (x *X11Manager) Active(ctx context.Context) (Info, error) {
	id, err := x.activeID(ctx)
	if err != nil {
		return Info{}, err
	}
	return x.describe(ctx, id)
}

func (x *X11Manager) activeID(ctx context.Context) (string, error) {
	if out, err := x.run(ctx, "xdotool", "getactivewindow"); err == nil {
		if id := strings.TrimSpace(out); id != "" {
			n, err := strconv.ParseUint(id, 10, 64)
			if err == nil {
				return fmt.Sprintf("0x%x", n), nil
			}
			return id, nil
		}
	}
	// Parse window ID from "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007"
	out, err := x.run(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return "", err
	}
	parts := strings.Fields(out)
	if len(parts) < 5 {
		return "", errors.New("failed to parse xprop output")
	}
	id := strings.TrimSuffix(parts[len(parts)-1], ",")
	if id == "0x0" {
		return "", ErrNotFound
	}
	return id, nil
}

func (x *X11Manager) describe(ctx context.Context, id string) (Info, error) {
	out, err := x.run(ctx, "xprop", "-id", id, "_NET_WM_NAME", "WM_NAME", "WM_CLASS")
	if err != nil {
		return Info{}, err
	}
	return parseXprop(out), nil
}

// parseXprop extracts the title and class from xprop output. _NET_WM_NAME
// (UTF-8) wins over WM_NAME.
func parseXprop(out string) Info {
	var info Info
	var netName, wmName string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "_NET_WM_NAME"):
			netName = quoted(line)
		case strings.HasPrefix(line, "WM_NAME"):
			wmName = quoted(line)
		case strings.HasPrefix(line, "WM_CLASS"):
			// WM_CLASS(STRING) = "instance", "Class"
			_, rhs, ok := strings.Cut(line, "= ")
			if !ok {
				continue
			}
			var parts []string
			for _, p := range strings.Split(rhs, ", ") {
				parts = append(parts, strings.Trim(p, `"`))
			}
			info.Class = strings.Join(parts, ".")
		}
	}
	info.Title = netName
	if info.Title == "" {
		info.Title = wmName
	}
	return info
}

func quoted(line string) string {
	idx := strings.Index(line, `= "`)
	end := strings.LastIndex(line, `"`)
	if idx == -1 || end <= idx+3 {
		return ""
	}
	return strings.ReplaceAll(line[idx+3:end], `\"`, `"`)
}

// wmctrlLine matches `wmctrl -lG` rows: id, desktop, x, y, w, h, host, title.
var wmctrlLine = regexp.MustCompile(`^(0x[0-9a-fA-F]+)\s+(-?\d+)\s+(-?\d+)\s+(-?\d+)\s+(\d+)\s+(\d+)\s+(\S+)\s+(.*)$`)

func parseWmctrl(out string) []Window {
	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		m := wmctrlLine.FindStringSubmatch(strings.TrimRight(line, " "))
		if m == nil {
			continue
		}
		atoi := func(s string) int { n, _ := strconv.Atoi(s); return n }
		windows = append(windows, Window{
			ID:      m[1],
			Desktop: atoi(m[2]),
			X:       atoi(m[3]),
			Y:       atoi(m[4]),
			Width:   atoi(m[5]),
			Height:  atoi(m[6]),
			Host:    m[7],
			Title:   m[8],
		})
	}
	return windows
}

// List returns all managed windows.
func (x *X11Manager) List(ctx context.Context) ([]Window, error) {
	out, err := x.run(ctx, "wmctrl", "-lG")
	if err != nil {
		return nil, err
	}
	return parseWmctrl(out), nil
}

func target(title string, byID bool) []string {
	if byID {
		return []string{"-i", "-r", title}
	}
	return []string{"-r", title}
}

// Activate switches to the window's desktop and raises it.
func (x *X11Manager) Activate(ctx context.Context, title string, byID bool) error {
	args := []string{"-a", title}
	if byID {
		args = []string{"-i", "-a", title}
	}
	_, err := x.run(ctx, "wmctrl", args...)
	return err
}

// Close closes the window gracefully.
func (x *X11Manager) Close(ctx context.Context, title string, byID bool) error {
	args := []string{"-c", title}
	if byID {
		args = []string{"-i", "-c", title}
	}
	_, err := x.run(ctx, "wmctrl", args...)
	return err
}

// MoveResize moves and resizes the window; -1 keeps a value unchanged.
func (x *X11Manager) MoveResize(ctx context.Context, title string, g Geometry, byID bool) error {
	spec := fmt.Sprintf("0,%d,%d,%d,%d", g.X, g.Y, g.Width, g.Height)
	args := append(target(title, byID), "-e", spec)
	_, err := x.run(ctx, "wmctrl", args...)
	return err
}

// ActiveGeometry returns the geometry of the focused window.
func (x *X11Manager) ActiveGeometry(ctx context.Context) (Geometry, error) {
	id, err := x.activeID(ctx)
	if err != nil {
		return Geometry{}, err
	}
	windows, err := x.List(ctx)
	if err != nil {
		return Geometry{}, err
	}
	want, _ := strconv.ParseUint(strings.TrimPrefix(id, "0x"), 16, 64)
	for _, w := range windows {
		got, _ := strconv.ParseUint(strings.TrimPrefix(w.ID, "0x"), 16, 64)
		if got == want {
			return Geometry{w.X, w.Y, w.Width, w.Height}, nil
		}
	}
	return Geometry{}, ErrNotFound
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
