// Package notify posts desktop notifications over the session bus.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"autokeyd/internal/logging"
)

const (
	busName   = "org.freedesktop.Notifications"
	object    = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface     = "org.freedesktop.Notifications"
	appName   = "autokeyd"
	appIcon   = "input-keyboard"
	expireMS  = int32(5000)
	urgencyLo = byte(1)
	urgencyHi = byte(2)
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(ctx context.Context, summary, body string, urgent bool) error
}

// DBus talks to the freedesktop notification daemon.
type DBus struct {
	mu   sync.Mutex
	conn *dbus.Conn
	// last id, so a burst of errors replaces one bubble instead of stacking.
	replaces uint32
}

// NewDBus connects to the session bus.
func NewDBus() (*DBus, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &DBus{conn: conn}, nil
}

// Notify calls org.freedesktop.Notifications.Notify.
func (d *DBus) Notify(ctx context.Context, summary, body string, urgent bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	urgency := urgencyLo
	if urgent {
		urgency = urgencyHi
	}
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}

	var id uint32
	call := d.conn.Object(busName, object).CallWithContext(ctx, iface+".Notify", 0,
		appName, d.replaces, appIcon, summary, body, []string{}, hints, expireMS)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify reply: %w", err)
	}
	d.replaces = id
	return nil
}

// Log is the fallback used when no notification daemon is reachable.
type Log struct {
	Logger *logging.Logger
}

// Notify writes the message to the log.
func (l Log) Notify(_ context.Context, summary, body string, urgent bool) error {
	log := l.Logger
	if log == nil {
		log = logging.Component("notify")
	}
	if urgent {
		log.Warn(summary, "body", body)
	} else {
		log.Info(summary, "body", body)
	}
	return nil
}

// Limited drops notifications that arrive within Interval of the last one
// delivered.
type Limited struct {
	Next     Notifier
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewLimited wraps next with a one-per-interval limit.
func NewLimited(next Notifier, interval time.Duration) *Limited {
	return &Limited{Next: next, Interval: interval, now: time.Now}
}

// Notify forwards to Next unless the limit was hit. Dropped messages are
// not an error.
func (l *Limited) Notify(ctx context.Context, summary, body string, urgent bool) error {
	l.mu.Lock()
	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.Interval {
		l.mu.Unlock()
		return nil
	}
	l.last = now
	l.mu.Unlock()
	return l.Next.Notify(ctx, summary, body, urgent)
}

// Default returns the bus notifier limited to one message per second, or a
// logging notifier when the bus is unavailable.
func Default(log *logging.Logger) Notifier {
	var next Notifier
	if d, err := NewDBus(); err == nil {
		next = d
	} else {
		log.Warn("desktop notifications unavailable", "error", err)
		next = Log{Logger: log}
	}
	return NewLimited(next, time.Second)
}
