// Package expansion sends phrases: it expands macros, positions the caret,
// delivers the text in the phrase's send mode and keeps the record needed to
// undo the last expansion with Backspace.
package expansion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"autokeyd/internal/keys"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
	"autokeyd/internal/window"
)

// Mediator is the output surface of the I/O mediator.
type Mediator interface {
	Send(fn func() error) error
	SendString(s string) error
	SendStringSlowly(s string) error
	PasteString(s, pasteCommand string) error
	RemoveString(s string) error
	SendBackspace(n int) error
	SendLeft(n int) error
}

// Tree serializes changes to item usage counters.
type Tree interface {
	Write(fn func())
}

// Options configures a Runner.
type Options struct {
	// WorkAroundApps selects windows, by title or class, that get the slow
	// per-character keyboard path.
	WorkAroundApps string
	Logger         *logging.Logger
}

// Runner executes phrases.
type Runner struct {
	med    Mediator
	tree   Tree
	macros *Macros
	log    *logging.Logger

	workAround atomic.Pointer[regexp.Regexp]

	mu   sync.Mutex
	last *record
	// clears counts ClearLast calls so a send can tell whether the caret
	// moved while it was typing.
	clears uint64
}

type record struct {
	exp    model.Expansion
	phrase *model.Phrase
	buffer string
}

// NewRunner builds a runner. tree may be nil when no index guards the items.
func NewRunner(med Mediator, tree Tree, macros *Macros, opts Options) (*Runner, error) {
	if macros == nil {
		macros = NewMacros(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("expansion")
	}
	r := &Runner{med: med, tree: tree, macros: macros, log: opts.Logger}
	if err := r.SetWorkAroundApps(opts.WorkAroundApps); err != nil {
		return nil, err
	}
	return r, nil
}

// SetWorkAroundApps replaces the slow-path window regex; "" disables it.
func (r *Runner) SetWorkAroundApps(pattern string) error {
	if pattern == "" {
		r.workAround.Store(nil)
		return nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return fmt.Errorf("work-around apps %q: %w", pattern, err)
	}
	r.workAround.Store(re)
	return nil
}

func (r *Runner) slowPath(win window.Info) bool {
	re := r.workAround.Load()
	return re != nil && (re.MatchString(win.Title) || re.MatchString(win.Class))
}

// Build produces the final expansion for p: the phrase output for buffer
// with macros expanded and the cursor token resolved into lefts. Macros run
// here, before the send-lock is taken, so a <script> macro may send keys.
func (r *Runner) Build(ctx context.Context, p *model.Phrase, buffer string) model.Expansion {
	var exp model.Expansion
	if r.tree != nil {
		r.tree.Write(func() { exp = p.BuildPhrase(buffer) })
	} else {
		exp = p.BuildPhrase(buffer)
	}
	exp.String = r.macros.Expand(ctx, exp.String)
	return PositionCursor(exp)
}

// PositionCursor removes the cursor token from exp.String and sets Lefts to
// the number of characters typed after it. An expansion that moves the
// caret itself gets no lefts.
func PositionCursor(exp model.Expansion) model.Expansion {
	first, second, ok := strings.Cut(exp.String, CursorToken)
	if !ok {
		return exp
	}
	second = strings.ReplaceAll(second, CursorToken, "")
	exp.String = first + second
	exp.Lefts = 0
	for _, seg := range keys.Split(exp.String) {
		if seg.Kind == keys.Named && keys.IsNavigation(keys.Key(seg.Text)) {
			return exp
		}
	}
	for _, seg := range keys.Split(second) {
		if seg.Kind == keys.Literal {
			exp.Lefts += len([]rune(seg.Text))
		}
	}
	return exp
}

// Execute fires p for buffer in win.
func (r *Runner) Execute(ctx context.Context, p *model.Phrase, buffer string, win window.Info) error {
	exp := r.Build(ctx, p, buffer)
	return r.Send(p, exp, buffer, win)
}

// Send delivers a built expansion under the send-lock. The undo record is
// kept only when the send succeeded, the text holds no key tokens and
// nothing cleared the record while the text was being sent.
func (r *Runner) Send(p *model.Phrase, exp model.Expansion, buffer string, win window.Info) error {
	mode := p.SendMode
	if !mode.Valid() {
		mode = model.SendKeyboard
	}
	r.mu.Lock()
	clears := r.clears
	r.mu.Unlock()

	err := r.med.Send(func() error {
		if err := r.med.SendBackspace(exp.Backspaces); err != nil {
			return err
		}
		var err error
		switch {
		case mode != model.SendKeyboard:
			err = r.med.PasteString(exp.String, string(mode))
		case r.slowPath(win):
			err = r.med.SendStringSlowly(exp.String)
		default:
			err = r.med.SendString(exp.String)
		}
		if err != nil {
			return err
		}
		return r.med.SendLeft(exp.Lefts)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || keys.ContainsSpecialKeys(exp.String) || r.clears != clears {
		r.last = nil
	} else {
		r.last = &record{exp: exp, phrase: p, buffer: buffer}
	}
	if err != nil {
		r.log.Warn("phrase send failed", "phrase", p.Description, "mode", string(mode), "error", err)
		return fmt.Errorf("send phrase %q: %w", p.Description, err)
	}
	r.log.Debug("phrase sent", "phrase", p.Description, "backspaces", exp.Backspaces, "lefts", exp.Lefts)
	return nil
}

// CanUndo reports whether an expansion record is held.
func (r *Runner) CanUndo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last != nil
}

// ClearLast forgets the last expansion.
func (r *Runner) ClearLast() {
	r.mu.Lock()
	r.last = nil
	r.clears++
	r.mu.Unlock()
}

// Undo erases the last expansion and retypes what triggered it. The user's
// Backspace that requested the undo has already removed one character.
func (r *Runner) Undo() (bool, error) {
	r.mu.Lock()
	last := r.last
	r.last = nil
	r.mu.Unlock()
	if last == nil {
		return false, nil
	}
	replay := keys.EscapeText(last.phrase.TriggerChars(last.buffer))
	err := r.med.Send(func() error {
		if err := r.med.RemoveString(last.exp.String); err != nil {
			return err
		}
		return r.med.SendString(replay)
	})
	if err != nil {
		return true, fmt.Errorf("undo %q: %w", last.phrase.Description, err)
	}
	r.log.Debug("expansion undone", "phrase", last.phrase.Description)
	return true, nil
}
