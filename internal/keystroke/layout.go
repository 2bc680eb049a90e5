package keystroke

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autokeyd/internal/sysexec"
)

// LayoutSource loads the character table of the active layout.
type LayoutSource struct {
	Run sysexec.Runner
}

// Layout returns a short description of the active XKB layout, as reported
// by `setxkbmap -query`.
func (s LayoutSource) Layout(ctx context.Context) (string, error) {
	out, err := s.run()(ctx, "setxkbmap", "-query")
	if err != nil {
		return "", fmt.Errorf("setxkbmap -query: %w", err)
	}
	var parts []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "layout", "variant", "options":
			parts = append(parts, strings.TrimSpace(val))
		}
	}
	return strings.Join(parts, "/"), nil
}

// Load reads the keymap with `xmodmap -pke`.
func (s LayoutSource) Load(ctx context.Context) (map[uint16][levelCount]string, error) {
	out, err := s.run()(ctx, "xmodmap", "-pke")
	if err != nil {
		return nil, fmt.Errorf("xmodmap -pke: %w", err)
	}
	return ParseXmodmap(bytes.NewReader(out))
}

func (s LayoutSource) run() sysexec.Runner {
	return sysexec.OrDefault(s.Run)
}

// Refresh reloads km when the layout reported by src differs from the one
// km was built from. It reports whether the tables were replaced.
func Refresh(ctx context.Context, km *Keymap, src LayoutSource) (bool, error) {
	layout, err := src.Layout(ctx)
	if err != nil {
		return false, err
	}
	if layout == km.Layout() {
		return false, nil
	}
	table, err := src.Load(ctx)
	if err != nil {
		return false, err
	}
	km.Replace(layout, table)
	return true, nil
}

// WatchLayout polls for layout changes until ctx is done and re-reads the
// keymap whenever the layout switches.
func WatchLayout(ctx context.Context, km *Keymap, src LayoutSource, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := Refresh(ctx, km, src)
			if err != nil {
				log.Debug("layout poll failed", "error", err)
				continue
			}
			if changed {
				log.Info("keyboard layout changed, keymap reloaded", "layout", km.Layout())
			}
		}
	}
}
