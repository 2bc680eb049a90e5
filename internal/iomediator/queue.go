package iomediator

import (
	"sync"

	"autokeyd/internal/keys"
	"autokeyd/internal/platform"
	"autokeyd/internal/window"
)

type entryKind int

const (
	entryKey entryKind = iota
	entryClick
	entryTask
	entryStop
)

type entry struct {
	kind  entryKind
	code  uint16
	win   window.Info
	mods  modState
	click platform.Click
	task  func()
}

// modState is the modifier state captured when a keypress arrives, so a
// modifier released before the worker gets to the key does not change it.
type modState struct {
	shifted bool
	numLock bool
	altGr   bool
	held    []keys.Key
}

// queue is an unbounded FIFO. Input goroutines must never block on it.
type queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []entry
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) put(e entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue) get() entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	e := q.items[0]
	q.items[0] = entry{}
	q.items = q.items[1:]
	return e
}

// drain removes and returns everything queued.
func (q *queue) drain() []entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
