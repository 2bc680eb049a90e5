// Package keystroke reads raw key and button events from the kernel input
// layer and translates evdev keycodes through the active keyboard layout.
//
// Platform support:
//   - Linux: /dev/input/event* (requires the input group or root)
//   - elsewhere: not available; use SimulatedHook in tests
package keystroke

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Action is the kernel's key event value.
type Action int32

const (
	Release Action = 0
	Press   Action = 1
	Repeat  Action = 2
)

// Button identifies a mouse button.
type Button int

const (
	ButtonLeft   Button = 1
	ButtonMiddle Button = 2
	ButtonRight  Button = 3
)

// String returns the robotgo-style button name.
func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonMiddle:
		return "center"
	case ButtonRight:
		return "right"
	default:
		return "unknown"
	}
}

// Event is one key or button transition.
type Event struct {
	// Code is the evdev keycode. Zero for button events.
	Code   uint16
	Button Button
	Action Action
	Time   time.Time
	Device string
}

// IsButton reports whether the event came from a pointer button.
func (e Event) IsButton() bool {
	return e.Button != 0
}

// Sink receives events from a Hook. It is called on the hook's goroutine and
// must not block.
type Sink func(Event)

// Hook captures hardware input events.
type Hook interface {
	// Start opens the input devices and begins delivering events to sink.
	Start(ctx context.Context, sink Sink) error

	// Stop ends delivery and closes the devices.
	Stop() error

	// Available returns true if capture is possible with current permissions.
	Available() (bool, string)
}

var (
	// ErrNotAvailable is returned when no input device can be captured.
	ErrNotAvailable = errors.New("keyboard capture not available on this platform")

	// ErrPermissionDenied is returned when devices exist but cannot be opened.
	ErrPermissionDenied = errors.New("insufficient permissions to read input devices")

	// ErrAlreadyRunning is returned when Start is called while already running.
	ErrAlreadyRunning = errors.New("hook already running")
)

// BaseHook provides the running flag shared by hook implementations.
type BaseHook struct {
	mu      sync.RWMutex
	running bool
	sink    Sink
}

// SetRunning sets the running state and the sink events go to.
func (b *BaseHook) SetRunning(running bool, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
	b.sink = sink
}

// IsRunning returns the running state.
func (b *BaseHook) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Emit delivers ev to the sink if the hook is running.
func (b *BaseHook) Emit(ev Event) {
	b.mu.RLock()
	sink := b.sink
	running := b.running
	b.mu.RUnlock()
	if running && sink != nil {
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		sink(ev)
	}
}

// New creates a Hook for the current platform.
func New() Hook {
	return newPlatformHook()
}

// SimulatedHook is a hook for testing that doesn't touch real devices.
type SimulatedHook struct {
	BaseHook
}

// NewSimulated creates a hook for testing.
func NewSimulated() *SimulatedHook {
	return &SimulatedHook{}
}

// Start begins the simulated hook.
func (s *SimulatedHook) Start(ctx context.Context, sink Sink) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	s.SetRunning(true, sink)
	go func() {
		<-ctx.Done()
		s.SetRunning(false, nil)
	}()
	return nil
}

// Stop stops the simulated hook.
func (s *SimulatedHook) Stop() error {
	s.SetRunning(false, nil)
	return nil
}

// Available returns true (simulated is always available).
func (s *SimulatedHook) Available() (bool, string) {
	return true, "simulated hook (for testing)"
}

// Tap simulates a press and release of code.
func (s *SimulatedHook) Tap(code uint16) {
	s.Emit(Event{Code: code, Action: Press, Device: "simulated"})
	s.Emit(Event{Code: code, Action: Release, Device: "simulated"})
}

// Press simulates a key-down.
func (s *SimulatedHook) Press(code uint16) {
	s.Emit(Event{Code: code, Action: Press, Device: "simulated"})
}

// Release simulates a key-up.
func (s *SimulatedHook) Release(code uint16) {
	s.Emit(Event{Code: code, Action: Release, Device: "simulated"})
}

// Click simulates a pointer button press.
func (s *SimulatedHook) Click(b Button) {
	s.Emit(Event{Button: b, Action: Press, Device: "simulated"})
}
