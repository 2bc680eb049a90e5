package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrNoScript is returned when a script name does not resolve.
	ErrNoScript = errors.New("no script with that description")

	// ErrShutdown is returned for runs requested after Close.
	ErrShutdown = errors.New("script runner shut down")
)

// Error describes an uncaught failure in a user script.
type Error struct {
	Script    string
	Message   string
	Traceback string
	Started   time.Time
	Failed    time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("script %q: %s", e.Script, e.Message)
}

func newError(name string, started time.Time, err error) *Error {
	e := &Error{Script: name, Message: err.Error(), Started: started, Failed: time.Now()}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if apiErr.Object != nil {
			e.Message = apiErr.Object.String()
		}
		e.Traceback = apiErr.StackTrace
	}
	return e
}

// Ring keeps the most recent script errors.
type Ring struct {
	mu   sync.Mutex
	buf  []Error
	size int
}

// NewRing keeps up to size errors.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{size: size}
}

// Add appends e, dropping the oldest entry when full.
func (r *Ring) Add(e Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == r.size {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, e)
}

// List returns the errors oldest first.
func (r *Ring) List() []Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Error(nil), r.buf...)
}

// Len is the number of stored errors.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Clear drops every entry.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}
