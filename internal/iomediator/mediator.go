// Package iomediator sits between the platform and the engine. It tracks
// modifier state, serializes hardware events onto one worker goroutine,
// fans them out to listeners and owns the send-lock that keeps synthetic
// output from interleaving.
package iomediator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autokeyd/internal/keys"
	"autokeyd/internal/logging"
	"autokeyd/internal/platform"
	"autokeyd/internal/window"
)

// PasteSelection selects the primary-selection paste path in PasteString.
// Any other paste command is a key combination such as "<ctrl>+v".
const PasteSelection = "selection"

var (
	// ErrShutdown is returned by operations on a stopped mediator.
	ErrShutdown = errors.New("mediator shut down")

	// ErrJoinTimeout is returned by Shutdown when the worker did not finish.
	ErrJoinTimeout = errors.New("mediator worker did not stop in time")
)

// Listener receives translated events. rawKey is the unshifted key, key the
// character under the current modifiers; mods are the held modifiers, sorted.
type Listener interface {
	HandleKeypress(rawKey string, mods []keys.Key, key string, win window.Info)
	HandleMouseClick(click platform.Click)
}

// Options tunes a Mediator.
type Options struct {
	// ClipboardRestoreDelay is waited after a clipboard paste before the old
	// contents are put back.
	ClipboardRestoreDelay time.Duration
	// SelectionRestoreDelay is the same for primary-selection pastes.
	SelectionRestoreDelay time.Duration
	// SlowKeyDelay is the per-character pause used by SendStringSlowly.
	SlowKeyDelay time.Duration
	// JoinTimeout bounds Shutdown.
	JoinTimeout time.Duration

	// CrashDir and Version are written into crash reports.
	CrashDir string
	Version  string
	// OnFatal is called when the worker dies outside of event dispatch.
	OnFatal func(err error)

	Logger *logging.Logger
}

// DefaultOptions returns the delays found to work with common toolkits.
func DefaultOptions() Options {
	return Options{
		ClipboardRestoreDelay: 200 * time.Millisecond,
		SelectionRestoreDelay: time.Second,
		SlowKeyDelay:          20 * time.Millisecond,
		JoinTimeout:           5 * time.Second,
	}
}

// Mediator implements platform.Receiver.
type Mediator struct {
	iface platform.Interface
	opts  Options
	log   *logging.Logger

	queue *queue
	done  chan struct{}

	started atomic.Bool
	stopped atomic.Bool

	modMu     sync.Mutex
	modifiers map[keys.Key]bool

	listenMu  sync.Mutex
	listeners atomic.Pointer[[]Listener]

	sendMu   sync.Mutex
	released []keys.Key
}

// New creates a mediator driving iface. Zero option fields take defaults.
func New(iface platform.Interface, opts Options) *Mediator {
	def := DefaultOptions()
	if opts.ClipboardRestoreDelay == 0 {
		opts.ClipboardRestoreDelay = def.ClipboardRestoreDelay
	}
	if opts.SelectionRestoreDelay == 0 {
		opts.SelectionRestoreDelay = def.SelectionRestoreDelay
	}
	if opts.SlowKeyDelay == 0 {
		opts.SlowKeyDelay = def.SlowKeyDelay
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = def.JoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("iomediator")
	}

	m := &Mediator{
		iface:     iface,
		opts:      opts,
		log:       opts.Logger,
		queue:     newQueue(),
		done:      make(chan struct{}),
		modifiers: make(map[keys.Key]bool, len(keys.Modifiers)),
	}
	for _, mod := range keys.Modifiers {
		m.modifiers[mod] = false
	}
	empty := []Listener{}
	m.listeners.Store(&empty)
	return m
}

// Interface returns the platform the mediator drives.
func (m *Mediator) Interface() platform.Interface {
	return m.iface
}

// Start launches the worker and attaches the platform hook. A hook failure
// is returned but the worker keeps running, so synthetic output still works.
// Calling Start twice is a no-op.
func (m *Mediator) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	go m.run()
	if err := m.iface.Start(ctx, m); err != nil {
		return fmt.Errorf("attach input hook: %w", err)
	}
	m.log.Info("mediator started")
	return nil
}

// Shutdown detaches the hook, lets the worker drain the queue and waits for
// it. Pending clipboard restores run before the worker exits.
func (m *Mediator) Shutdown() error {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.log.Debug("mediator shutting down")
	m.iface.Cancel()
	m.queue.put(entry{kind: entryStop})

	select {
	case <-m.done:
		m.log.Debug("mediator shutdown completed")
		return nil
	case <-time.After(m.opts.JoinTimeout):
		m.log.Warn("mediator worker still busy after timeout", "timeout", m.opts.JoinTimeout, "queued", m.queue.len())
		return ErrJoinTimeout
	}
}

// AddListener registers l. Dispatch already in progress is not affected.
func (m *Mediator) AddListener(l Listener) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	cur := *m.listeners.Load()
	next := make([]Listener, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, l)
	m.listeners.Store(&next)
}

// RemoveListener unregisters l.
func (m *Mediator) RemoveListener(l Listener) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	cur := *m.listeners.Load()
	next := make([]Listener, 0, len(cur))
	for _, x := range cur {
		if x != l {
			next = append(next, x)
		}
	}
	m.listeners.Store(&next)
}

// Receiver side, called on input goroutines.

// HandleModifierDown toggles the lock modifiers and sets the others.
func (m *Mediator) HandleModifierDown(mod keys.Key) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	if keys.IsLock(mod) {
		m.modifiers[mod] = !m.modifiers[mod]
	} else {
		m.modifiers[mod] = true
	}
}

// HandleModifierUp clears a non-lock modifier. Locks only change on key down.
func (m *Mediator) HandleModifierUp(mod keys.Key) {
	if keys.IsLock(mod) {
		return
	}
	m.modMu.Lock()
	m.modifiers[mod] = false
	m.modMu.Unlock()
}

// SetModifierState forces a modifier, e.g. to seed the lock state at start.
func (m *Mediator) SetModifierState(mod keys.Key, on bool) {
	m.modMu.Lock()
	m.modifiers[mod] = on
	m.modMu.Unlock()
}

// ModifierState returns a copy of the modifier map.
func (m *Mediator) ModifierState() map[keys.Key]bool {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	out := make(map[keys.Key]bool, len(m.modifiers))
	for k, v := range m.modifiers {
		out[k] = v
	}
	return out
}

// HandleKeypress queues a hardware keypress for the worker.
func (m *Mediator) HandleKeypress(code uint16, win window.Info) {
	if m.stopped.Load() {
		return
	}
	m.modMu.Lock()
	state := modState{
		shifted: m.modifiers[keys.CapsLock] != m.modifiers[keys.Shift],
		numLock: m.modifiers[keys.NumLock],
		altGr:   m.modifiers[keys.AltGr],
		held:    m.heldLocked(),
	}
	m.modMu.Unlock()
	m.queue.put(entry{kind: entryKey, code: code, win: win, mods: state})
}

// HandleMouseClick queues a click behind the keypresses that came before it.
func (m *Mediator) HandleMouseClick(click platform.Click) {
	if m.stopped.Load() {
		return
	}
	m.queue.put(entry{kind: entryClick, click: click})
}

// Worker.

func (m *Mediator) run() {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			m.fatal(r)
		}
	}()

	for {
		e := m.queue.get()
		if e.kind == entryStop {
			break
		}
		m.dispatch(e)
	}

	for _, e := range m.queue.drain() {
		if e.kind == entryTask {
			m.safely("queued task", e.task)
		}
	}
}

func (m *Mediator) dispatch(e entry) {
	switch e.kind {
	case entryTask:
		m.safely("queued task", e.task)
	case entryKey:
		m.safely("keypress", func() { m.deliverKey(e.code, e.mods, e.win) })
	case entryClick:
		for _, l := range *m.listeners.Load() {
			m.safely("mouse click", func() { l.HandleMouseClick(e.click) })
		}
	}
}

func (m *Mediator) deliverKey(code uint16, state modState, win window.Info) {
	key := m.iface.LookupString(code, state.shifted, state.numLock, state.altGr)
	raw := m.iface.LookupString(code, false, false, false)

	for _, l := range *m.listeners.Load() {
		m.safely("keypress", func() { l.HandleKeypress(raw, state.held, key, win) })
	}
}

func (m *Mediator) heldLocked() []keys.Key {
	var held []keys.Key
	for _, mod := range keys.HeldModifiers {
		if m.modifiers[mod] {
			held = append(held, mod)
		}
	}
	return keys.SortModifiers(held)
}

// safely runs fn and logs a panic instead of letting it kill the worker.
func (m *Mediator) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic while handling event", "event", what, "panic", r)
		}
	}()
	fn()
}

func (m *Mediator) fatal(r any) {
	path, err := logging.WriteCrashReport(m.opts.CrashDir, m.opts.Version, "iomediator", r, map[string]any{
		"queued": m.queue.len(),
	})
	if err != nil {
		m.log.Error("write crash report", "error", err)
	}
	m.log.Error("mediator worker crashed", "panic", r, "report", path)
	if m.opts.OnFatal != nil {
		m.opts.OnFatal(fmt.Errorf("mediator worker crashed: %v", r))
	}
}

// enqueue runs task on the worker after everything already queued.
func (m *Mediator) enqueue(task func()) {
	m.queue.put(entry{kind: entryTask, task: task})
}

// Send-lock.

// BeginSend takes the send-lock and grabs the keyboard so the engine does
// not see its own output. Every BeginSend must be paired with FinishSend.
func (m *Mediator) BeginSend() {
	m.sendMu.Lock()
	m.iface.GrabKeyboard()
}

// FinishSend ungrabs and releases the send-lock.
func (m *Mediator) FinishSend() {
	m.iface.UngrabKeyboard()
	m.sendMu.Unlock()
}

// Send runs fn under the send-lock.
func (m *Mediator) Send(fn func() error) error {
	m.BeginSend()
	defer m.FinishSend()
	return fn()
}

// Output, called with the send-lock held.

var lineEndings = strings.NewReplacer("\n", string(keys.Enter), "\t", string(keys.Tab))

// SendString types s, interpreting key tokens and modifier applications.
// Modifiers the user is physically holding are released for the duration.
func (m *Mediator) SendString(s string) error {
	return m.sendString(s, 0)
}

// SendStringSlowly is SendString with a pause after every character, for
// applications that drop fast synthetic input.
func (m *Mediator) SendStringSlowly(s string) error {
	return m.sendString(s, m.opts.SlowKeyDelay)
}

func (m *Mediator) sendString(s string, perKey time.Duration) error {
	if s == "" {
		return nil
	}
	s = lineEndings.Replace(s)

	m.clearModifiers()
	defer m.reapplyModifiers()

	literal := func(text string) error {
		if perKey <= 0 {
			return m.iface.SendString(text)
		}
		for _, r := range text {
			if err := m.iface.SendString(string(r)); err != nil {
				return err
			}
			time.Sleep(perKey)
		}
		return nil
	}

	var mods []keys.Key
	for _, seg := range keys.Split(s) {
		var err error
		switch seg.Kind {
		case keys.ModifierApply:
			mods = append(mods, keys.Key(seg.Text))
			continue
		case keys.Named:
			if len(mods) > 0 {
				err = m.iface.SendModifiedKey(seg.Text, mods)
			} else {
				err = m.iface.SendKey(seg.Text)
			}
		case keys.Literal:
			if len(mods) > 0 {
				r := []rune(seg.Text)
				err = m.iface.SendModifiedKey(string(r[0]), mods)
				if err == nil && len(r) > 1 {
					err = literal(string(r[1:]))
				}
			} else {
				err = literal(seg.Text)
			}
		}
		mods = nil
		if err != nil {
			return fmt.Errorf("send %q: %w", seg.Text, err)
		}
	}
	return nil
}

func (m *Mediator) clearModifiers() {
	m.modMu.Lock()
	m.released = m.released[:0]
	for _, mod := range keys.HeldModifiers {
		if m.modifiers[mod] {
			m.released = append(m.released, mod)
		}
	}
	released := append([]keys.Key(nil), m.released...)
	m.modMu.Unlock()

	for _, mod := range released {
		if err := m.iface.ReleaseKey(string(mod)); err != nil {
			m.log.Debug("release held modifier", "modifier", mod, "error", err)
		}
	}
}

func (m *Mediator) reapplyModifiers() {
	m.modMu.Lock()
	released := append([]keys.Key(nil), m.released...)
	m.released = m.released[:0]
	m.modMu.Unlock()

	for _, mod := range released {
		if err := m.iface.PressKey(string(mod)); err != nil {
			m.log.Debug("re-press held modifier", "modifier", mod, "error", err)
		}
	}
}

// PasteString pastes s through the clipboard with pasteCommand, or through
// the primary selection when pasteCommand is PasteSelection. The previous
// contents are restored from the worker after a delay.
func (m *Mediator) PasteString(s, pasteCommand string) error {
	if s == "" {
		return nil
	}
	var (
		restore func()
		delay   time.Duration
		err     error
	)
	if pasteCommand == PasteSelection {
		restore, err = m.iface.SendStringSelection(s)
		delay = m.opts.SelectionRestoreDelay
	} else {
		restore, err = m.iface.SendStringClipboard(s, pasteCommand)
		delay = m.opts.ClipboardRestoreDelay
	}
	if err != nil {
		return err
	}
	m.enqueue(func() {
		time.Sleep(delay)
		m.sendMu.Lock()
		defer m.sendMu.Unlock()
		restore()
	})
	return nil
}

// RemoveString erases what s typed. The user's own Backspace, which
// triggered the removal, already took one character.
func (m *Mediator) RemoveString(s string) error {
	return m.SendBackspace(keys.PrintableLength(s) - 1)
}

// SendKey taps one key token or character.
func (m *Mediator) SendKey(name string) error {
	return m.iface.SendKey(lineEndings.Replace(name))
}

// PressKey holds a key down.
func (m *Mediator) PressKey(name string) error {
	return m.iface.PressKey(lineEndings.Replace(name))
}

// ReleaseKey releases a held key.
func (m *Mediator) ReleaseKey(name string) error {
	return m.iface.ReleaseKey(lineEndings.Replace(name))
}

// FakeKeypress sends a press and release that applications see as typed.
func (m *Mediator) FakeKeypress(name string) error {
	return m.iface.FakeKeypress(lineEndings.Replace(name))
}

func (m *Mediator) repeat(key keys.Key, n int) error {
	for i := 0; i < n; i++ {
		if err := m.iface.SendKey(string(key)); err != nil {
			return err
		}
	}
	return nil
}

// SendLeft sends n left arrows.
func (m *Mediator) SendLeft(n int) error { return m.repeat(keys.Left, n) }

// SendRight sends n right arrows.
func (m *Mediator) SendRight(n int) error { return m.repeat(keys.Right, n) }

// SendUp sends n up arrows.
func (m *Mediator) SendUp(n int) error { return m.repeat(keys.Up, n) }

// SendBackspace sends n backspaces.
func (m *Mediator) SendBackspace(n int) error { return m.repeat(keys.Backspace, n) }
