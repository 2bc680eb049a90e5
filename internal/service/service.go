// Package service is the expansion engine core. It owns the I/O mediator,
// the input buffer and the runners, decides what each keypress fires and
// keeps hotkey grabs and the on-disk tree in step with the model.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"autokeyd/internal/config"
	"autokeyd/internal/dialog"
	"autokeyd/internal/expansion"
	"autokeyd/internal/iomediator"
	"autokeyd/internal/ipc"
	"autokeyd/internal/keystroke"
	"autokeyd/internal/logging"
	"autokeyd/internal/matcher"
	"autokeyd/internal/model"
	"autokeyd/internal/notify"
	"autokeyd/internal/platform"
	"autokeyd/internal/script"
	"autokeyd/internal/store"
	"autokeyd/internal/sysexec"
	"autokeyd/internal/watcher"
)

// ErrNotStarted is returned when Start is called after Shutdown.
var ErrNotStarted = errors.New("service has been shut down")

// DefaultMenuSettle is slept after a menu selection so the menu window is
// gone and focus is back on the target before anything is typed.
const DefaultMenuSettle = 250 * time.Millisecond

// Deps are the collaborators a Service drives. Interface and Index are
// required; the rest may be nil.
type Deps struct {
	Interface platform.Interface
	Index     *model.Index
	Store     *store.Store
	UI        UI
	Dialogs   *dialog.Dialogs
	Notifier  notify.Notifier
	Exec      sysexec.Runner

	// Keymap, when set, is re-read whenever the keyboard layout changes.
	Keymap *keystroke.Keymap
	// Watcher reports edits to the item tree made outside the engine.
	Watcher *watcher.Watcher
	// Loader supplies configuration reloads.
	Loader *config.Loader

	Logger  *logging.Logger
	Version string

	// MenuSettle overrides DefaultMenuSettle; negative disables the wait.
	MenuSettle time.Duration
}

// Service is the engine. It implements iomediator.Listener and
// ipc.Controller.
type Service struct {
	deps    Deps
	log     *logging.Logger
	idx     *model.Index
	iface   platform.Interface
	ui      UI
	med     *iomediator.Mediator
	scripts *script.Runner
	phrases *expansion.Runner
	buffer  *matcher.Buffer

	cfg atomic.Pointer[config.Config]

	running atomic.Bool
	started atomic.Bool
	stopped atomic.Bool

	// monitoring is false when the input hook could not be attached;
	// monitorErr then holds the reason.
	monitoring atomic.Bool
	monitorErr atomic.Pointer[string]

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// lastStack is the buffer captured when an abbreviation menu was shown,
	// so a selection from it can erase what was typed.
	stateMu   sync.Mutex
	lastStack string

	grabMu sync.Mutex
	grabs  map[model.Node]binding

	broadcastMu sync.RWMutex
	broadcast   func(ipc.EventType, any)

	settle   time.Duration
	itemsDir string
}

// New wires the engine for cfg. Nothing touches the desktop until Start.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Interface == nil {
		return nil, errors.New("service: platform interface is required")
	}
	if deps.Index == nil {
		deps.Index = model.NewIndex()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Component("service")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Service{
		deps:     deps,
		log:      deps.Logger,
		idx:      deps.Index,
		iface:    deps.Interface,
		buffer:   matcher.NewBuffer(0),
		grabs:    make(map[model.Node]binding),
		settle:   deps.MenuSettle,
		itemsDir: cfg.Paths.ItemsDir,
	}
	if s.settle == 0 {
		s.settle = DefaultMenuSettle
	}
	s.cfg.Store(cfg)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.med = iomediator.New(deps.Interface, iomediator.Options{
		ClipboardRestoreDelay: cfg.ClipboardRestoreDelay(),
		SelectionRestoreDelay: cfg.SelectionRestoreDelay(),
		SlowKeyDelay:          cfg.SendKeyDelay(),
		CrashDir:              cfg.Paths.DataDir,
		Version:               deps.Version,
		OnFatal:               s.fatal,
		Logger:                deps.Logger.WithComponent("iomediator"),
	})

	var notifier notify.Notifier
	if cfg.Script.NotifyErrors {
		notifier = deps.Notifier
	}
	s.scripts = script.NewRunner(script.Deps{
		Mediator:      s.med,
		Index:         s.idx,
		Store:         deps.Store,
		Dialogs:       deps.Dialogs,
		Notifier:      notifier,
		Exec:          deps.Exec,
		HotkeyCreated: s.HotkeyCreated,
		HotkeyRemoved: s.HotkeyRemoved,
	}, script.Options{
		ErrorRing: cfg.Script.ErrorRing,
		Grace:     cfg.ScriptGrace(),
		OnError: func(e *script.Error) {
			s.emit(ipc.EventScriptError, ipc.ScriptErrorsFrom([]script.Error{*e})[0])
		},
		Logger: deps.Logger.WithComponent("script"),
	})

	phrases, err := expansion.NewRunner(s.med, s.idx, expansion.NewMacros(s.scripts), expansion.Options{
		WorkAroundApps: cfg.Engine.WorkaroundApps,
		Logger:         deps.Logger.WithComponent("expansion"),
	})
	if err != nil {
		return nil, err
	}
	s.phrases = phrases

	s.ui = deps.UI
	if s.ui == nil {
		if deps.Dialogs != nil {
			s.ui = &DialogMenu{Dialogs: deps.Dialogs, Log: s.log}
		} else {
			s.ui = LogMenu{Log: s.log}
		}
	}

	if err := s.installGlobalHotkeys(cfg); err != nil {
		return nil, err
	}
	s.idx.OnAltered = s.altered
	s.idx.OnHotkeyRemoved = s.HotkeyRemoved
	s.med.AddListener(s)
	return s, nil
}

// Start attaches to the desktop and begins monitoring if the configuration
// asks for it. A second call is a no-op. When the input hook cannot be
// attached the engine keeps running with monitoring off.
func (s *Service) Start(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrNotStarted
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.startedAt = time.Now()
	cfg := s.Config()

	if err := s.med.Start(ctx); err != nil {
		reason := err.Error()
		s.monitorErr.Store(&reason)
		s.log.Error("input monitoring unavailable", "error", err)
		s.notify("autokeyd", fmt.Sprintf("Keyboard monitoring could not be started: %v", err))
		s.running.Store(false)
	} else {
		s.monitoring.Store(true)
		s.running.Store(cfg.Engine.ServiceRunning)
	}

	s.seedGlobals(cfg)
	if err := s.scripts.LoadErrors(); err != nil {
		s.log.Warn("load script errors", "error", err)
	}
	s.syncHotkeys()

	if km := s.deps.Keymap; km != nil && cfg.Engine.KeymapPollSec > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			keystroke.WatchLayout(s.ctx, km, keystroke.LayoutSource{Run: s.deps.Exec},
				time.Duration(cfg.Engine.KeymapPollSec)*time.Second, s.log.Logger)
		}()
	}
	if w := s.deps.Watcher; w != nil {
		if err := w.Start(); err != nil {
			s.log.Warn("item tree watcher not started", "error", err)
		} else {
			s.wg.Add(1)
			go s.watchTree(w)
		}
	}

	s.log.Info("service started", "running", s.running.Load(), "items", s.itemCount())
	return nil
}

// Shutdown stops monitoring, gives running scripts their grace period,
// releases every grab and writes the tree. It is safe to call more than once.
func (s *Service) Shutdown() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.running.Store(false)
	s.emit(ipc.EventShutdown, nil)
	s.cancel()

	var errs []error
	if w := s.deps.Watcher; w != nil && s.started.Load() {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
	}
	s.wg.Wait()

	if err := s.scripts.Close(); err != nil {
		errs = append(errs, err)
	}
	s.ungrabAll()
	if err := s.med.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := s.persist(); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("service stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether abbreviations and item hotkeys fire.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Pause stops abbreviations and item hotkeys. Engine hotkeys keep working
// so monitoring can be toggled back on.
func (s *Service) Pause() bool {
	return s.setRunning(false)
}

// Unpause resumes monitoring.
func (s *Service) Unpause() bool {
	return s.setRunning(true)
}

// Toggle flips monitoring.
func (s *Service) Toggle() bool {
	if !s.canMonitor() {
		return false
	}
	for {
		cur := s.running.Load()
		if s.running.CompareAndSwap(cur, !cur) {
			s.stateChanged(!cur)
			return !cur
		}
	}
}

func (s *Service) setRunning(on bool) bool {
	if on && !s.canMonitor() {
		return false
	}
	if s.running.Swap(on) != on {
		s.stateChanged(on)
	}
	return on
}

// canMonitor reports whether the input hook is attached. Resuming without
// it would report a running engine that never sees a key.
func (s *Service) canMonitor() bool {
	if s.monitoring.Load() {
		return true
	}
	s.log.Warn("monitoring cannot be resumed", "reason", s.MonitoringError())
	return false
}

// MonitoringError returns why the input hook is not attached, or "" when it
// is or Start has not run yet.
func (s *Service) MonitoringError() string {
	if p := s.monitorErr.Load(); p != nil {
		return *p
	}
	return ""
}

func (s *Service) stateChanged(on bool) {
	s.buffer.Clear()
	s.phrases.ClearLast()
	if on {
		s.log.Info("monitoring resumed")
	} else {
		s.log.Info("monitoring paused")
	}
	s.emit(ipc.EventServiceState, ipc.ServiceStateResponse{Running: on})
}

// Mediator exposes the I/O mediator, e.g. for the command line to send test
// strings.
func (s *Service) Mediator() *iomediator.Mediator { return s.med }

// Scripts returns the script runner.
func (s *Service) Scripts() *script.Runner { return s.scripts }

// Config returns the configuration in effect.
func (s *Service) Config() *config.Config { return s.cfg.Load() }

// SetBroadcast routes engine events, typically to the IPC server.
func (s *Service) SetBroadcast(fn func(ipc.EventType, any)) {
	s.broadcastMu.Lock()
	s.broadcast = fn
	s.broadcastMu.Unlock()
}

func (s *Service) emit(t ipc.EventType, data any) {
	s.broadcastMu.RLock()
	fn := s.broadcast
	s.broadcastMu.RUnlock()
	if fn != nil {
		fn(t, data)
	}
}

func (s *Service) notify(summary, body string) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(s.ctx, summary, body, true); err != nil {
		s.log.Debug("notification failed", "error", err)
	}
}

// fatal is called when the mediator worker dies outside event dispatch.
// Nothing can be typed or matched after that, so the process exits.
func (s *Service) fatal(err error) {
	s.log.Error("engine failure", "error", err)
	s.notify("autokeyd", "The expansion engine stopped: "+err.Error())
	os.Exit(1)
}

func (s *Service) seedGlobals(cfg *config.Config) {
	if s.deps.Store == nil {
		return
	}
	for k, v := range cfg.Script.Globals {
		_, err := s.deps.Store.Global(k)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNoValue) {
			s.log.Warn("read script global", "key", k, "error", err)
			continue
		}
		if err := s.deps.Store.SetGlobal(k, v); err != nil {
			s.log.Warn("seed script global", "key", k, "error", err)
		}
	}
}

func (s *Service) itemCount() int {
	var n int
	s.idx.Read(func() { n = len(s.idx.AllItems()) })
	return n
}
