// Package script runs user scripts written in Lua.
//
// Every run gets a fresh sandboxed interpreter with the capability modules
// keyboard, mouse, system, window, clipboard, dialog, engine and store
// installed as globals. Runs of the same script are serialized; different
// scripts run concurrently. engine.run_script calls another script on the
// calling goroutine, so a script may run itself.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/dialog"
	"autokeyd/internal/iomediator"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
	"autokeyd/internal/notify"
	"autokeyd/internal/store"
	"autokeyd/internal/sysexec"
)

const (
	// DefaultErrorRing is how many failures are remembered.
	DefaultErrorRing = 100
	// DefaultGrace is how long Close waits for running scripts.
	DefaultGrace = 5 * time.Second

	maxDepth = 32
)

// Deps are the engine services scripts reach through their modules.
type Deps struct {
	Mediator *iomediator.Mediator
	Index    *model.Index
	Store    *store.Store
	Dialogs  *dialog.Dialogs
	Notifier notify.Notifier
	Exec     sysexec.Runner

	// HotkeyCreated is told about items created with a hotkey so the
	// platform grab can be made.
	HotkeyCreated func(n model.Node)
	// HotkeyRemoved is told when create_phrase steals another item's hotkey.
	HotkeyRemoved func(n model.Node)
}

// Options tune a Runner.
type Options struct {
	ErrorRing int
	Grace     time.Duration
	// OnError is called after a failure was recorded.
	OnError func(e *Error)
	Logger  *logging.Logger
}

// Runner executes scripts.
type Runner struct {
	deps Deps
	opts Options
	log  *logging.Logger

	errors *Ring

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewRunner returns a runner over deps.
func NewRunner(deps Deps, opts Options) *Runner {
	if opts.ErrorRing == 0 {
		opts.ErrorRing = DefaultErrorRing
	}
	if opts.Grace == 0 {
		opts.Grace = DefaultGrace
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("script")
	}
	deps.Exec = sysexec.OrDefault(deps.Exec)
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		deps:   deps,
		opts:   opts,
		log:    log,
		errors: NewRing(opts.ErrorRing),
		locks:  make(map[string]*sync.Mutex),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Errors returns the recorded failures, oldest first.
func (r *Runner) Errors() []Error { return r.errors.List() }

// ClearErrors forgets recorded failures, including the persisted log.
func (r *Runner) ClearErrors() error {
	r.errors.Clear()
	if r.deps.Store != nil {
		return r.deps.Store.ClearScriptErrors()
	}
	return nil
}

// invocation is the per-run state the modules see.
type invocation struct {
	id   string
	name string
	code string

	args      []string
	macroArgs []string
	ret       string

	abbr, trigger string
	triggered     bool

	parent *invocation
	depth  int
}

func (inv *invocation) holds(id string) bool {
	for p := inv; p != nil; p = p.parent {
		if p.id == id {
			return true
		}
	}
	return false
}

func (r *Runner) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	return mu
}

// Execute runs s for an abbreviation or hotkey on its own goroutine: the
// trigger text is erased first and the trigger character retyped after.
func (r *Runner) Execute(s *model.Script, buffer string) {
	if r.closed.Load() {
		r.log.Warn("script not run: shutting down", "script", s.Description)
		return
	}

	var (
		backspaces int
		retype     string
		inv        = r.newInvocation(s)
	)
	r.deps.Index.Write(func() {
		backspaces, retype = s.ProcessBuffer(buffer)
		if buffer == "" {
			return
		}
		if abbr, ok := s.Abbr.TriggerAbbreviation(buffer); ok {
			_, _, after := s.Abbr.Partition(abbr, buffer)
			inv.abbr, inv.trigger, inv.triggered = abbr, after, true
		}
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := r.ctx
		if backspaces > 0 {
			if err := r.deps.Mediator.Send(func() error {
				return r.deps.Mediator.SendBackspace(backspaces)
			}); err != nil {
				r.log.Error("erase trigger", "script", s.Description, "error", err)
			}
		}
		_ = r.run(ctx, inv)
		if retype != "" {
			if err := r.deps.Mediator.Send(func() error {
				return r.deps.Mediator.SendString(retype)
			}); err != nil {
				r.log.Error("retype trigger", "script", s.Description, "error", err)
			}
		}
	}()
}

func (r *Runner) newInvocation(s *model.Script) *invocation {
	var inv *invocation
	r.deps.Index.Read(func() {
		inv = &invocation{id: s.ID, name: s.Description, code: s.Code}
	})
	return inv
}

// Run runs s synchronously with args and returns the value it set with
// engine.set_return_value.
func (r *Runner) Run(ctx context.Context, s *model.Script, args []string) (string, error) {
	inv := r.newInvocation(s)
	inv.args = args
	return r.track(ctx, inv)
}

// RunByName looks a script up by description, or runs the file when name
// is an absolute path to one.
func (r *Runner) RunByName(ctx context.Context, name string, args []string) (string, error) {
	inv, err := r.resolve(name, nil)
	if err != nil {
		return "", err
	}
	inv.args = args
	return r.track(ctx, inv)
}

// RunMacro serves <script name=... args=...> phrase macros.
func (r *Runner) RunMacro(ctx context.Context, name string, args []string) (string, error) {
	inv, err := r.resolve(name, nil)
	if err != nil {
		return "", err
	}
	inv.macroArgs = args
	return r.track(ctx, inv)
}

func (r *Runner) track(ctx context.Context, inv *invocation) (string, error) {
	if r.closed.Load() {
		return "", ErrShutdown
	}
	r.wg.Add(1)
	defer r.wg.Done()
	if err := r.run(ctx, inv); err != nil {
		return "", err
	}
	return inv.ret, nil
}

func (r *Runner) resolve(name string, parent *invocation) (*invocation, error) {
	inv := &invocation{parent: parent}
	if parent != nil {
		inv.depth = parent.depth + 1
	}

	path := expandHome(name)
	if filepath.IsAbs(path) {
		if code, err := os.ReadFile(path); err == nil {
			inv.id, inv.name, inv.code = "path:"+path, path, string(code)
			return inv, nil
		}
	}

	var found *model.Script
	r.deps.Index.Read(func() {
		for _, it := range r.deps.Index.AllItems() {
			if s, ok := it.(*model.Script); ok && s.Description == name {
				found = s
				inv.id, inv.name, inv.code = s.ID, s.Description, s.Code
			}
		}
	})
	if found == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrNoScript)
	}
	return inv, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// run evaluates inv, serialized against other runs of the same script
// unless an enclosing run already holds it. Failures are recorded.
func (r *Runner) run(ctx context.Context, inv *invocation) error {
	if inv.parent == nil || !inv.parent.holds(inv.id) {
		mu := r.lockFor(inv.id)
		mu.Lock()
		defer mu.Unlock()
	}

	started := time.Now()
	r.log.Debug("running script", "script", inv.name, "depth", inv.depth)
	err := r.eval(ctx, inv)
	if err == nil {
		return nil
	}
	// Nested failures surface as Lua errors in the caller, which records them.
	if inv.parent != nil {
		return err
	}
	e := newError(inv.name, started, err)
	r.record(inv.id, e)
	return e
}

func (r *Runner) eval(ctx context.Context, inv *invocation) (err error) {
	L := newState()
	defer L.Close()

	runCtx, cancel := mergeContext(ctx, r.ctx)
	defer cancel()
	L.SetContext(runCtx)

	c := &call{r: r, inv: inv, ctx: runCtx, L: L}
	c.install()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lua panic: %v", p)
		}
	}()

	fn, err := L.Load(strings.NewReader(inv.code), inv.name)
	if err != nil {
		return err
	}
	L.Push(fn)
	return L.PCall(0, lua.MultRet, nil)
}

// mergeContext is ctx, also cancelled when the runner shuts down.
func mergeContext(ctx, runner context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runner, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func (r *Runner) record(id string, e *Error) {
	r.log.Error("script failed", "script", e.Script, "error", e.Message)
	r.errors.Add(*e)

	if r.deps.Store != nil {
		rec := &store.ScriptError{
			ScriptID:   id,
			ScriptName: e.Script,
			Message:    e.Message,
			Traceback:  e.Traceback,
			StartedAt:  e.Started,
			FailedAt:   e.Failed,
		}
		if _, err := r.deps.Store.InsertScriptError(rec, r.opts.ErrorRing); err != nil {
			r.log.Warn("persist script error", "error", err)
		}
	}
	if r.deps.Notifier != nil {
		body := fmt.Sprintf("The script '%s' encountered an error: %s", e.Script, e.Message)
		if err := r.deps.Notifier.Notify(context.Background(), "Script error", body, true); err != nil {
			r.log.Debug("notify script error", "error", err)
		}
	}
	if r.opts.OnError != nil {
		r.opts.OnError(e)
	}
}

// LoadErrors fills the ring from the persisted log, e.g. at start-up.
func (r *Runner) LoadErrors() error {
	if r.deps.Store == nil {
		return nil
	}
	recs, err := r.deps.Store.ScriptErrors()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		r.errors.Add(Error{
			Script:    rec.ScriptName,
			Message:   rec.Message,
			Traceback: rec.Traceback,
			Started:   rec.StartedAt,
			Failed:    rec.FailedAt,
		})
	}
	return nil
}

// Wait blocks until no script is running or timeout elapses.
func (r *Runner) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close refuses new runs, gives running scripts the grace period and then
// cancels them.
func (r *Runner) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.Wait(r.opts.Grace) {
		r.cancel()
		return nil
	}
	r.cancel()
	if !r.Wait(time.Second) {
		return errors.New("scripts still running after cancel")
	}
	return nil
}
