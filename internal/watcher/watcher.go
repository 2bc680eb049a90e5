// Package watcher monitors the item tree on disk and reports edits made
// outside the engine.
package watcher

import (
	"crypto/sha256"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"autokeyd/internal/logging"
)

// Event reports that the tree changed and has been quiet for the debounce
// interval.
type Event struct {
	Paths     []string
	Digest    [32]byte
	Timestamp time.Time
}

// Watcher monitors a directory tree for changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	interval  time.Duration
	log       *logging.Logger

	// State tracking: path -> time of the last event
	state   map[string]time.Time
	stateMu sync.Mutex
	digest  [32]byte
	// suspended counts nested Suspend calls.
	suspended int

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for root. Changes are reported once no event has
// arrived for debounce.
func New(root string, debounce time.Duration, log *logging.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Component("watcher")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		root:      root,
		interval:  debounce,
		log:       log,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 8),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start watches root and every directory below it.
func (w *Watcher) Start() error {
	absRoot, err := filepath.Abs(w.root)
	if err != nil {
		return err
	}
	w.root = absRoot
	if err := os.MkdirAll(absRoot, 0o700); err != nil {
		return err
	}
	if err := w.addTree(absRoot); err != nil {
		return err
	}
	digest, err := TreeDigest(absRoot)
	if err != nil {
		return err
	}
	w.stateMu.Lock()
	w.digest = digest
	w.stateMu.Unlock()

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// Suspend ignores changes until the matching Unsuspend, so the engine's own
// saves do not come back as reloads.
func (w *Watcher) Suspend() {
	w.stateMu.Lock()
	w.suspended++
	w.stateMu.Unlock()
}

// Unsuspend resumes reporting. The tree as it is now becomes the baseline.
func (w *Watcher) Unsuspend() {
	digest, err := TreeDigest(w.root)
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.suspended > 0 {
		w.suspended--
	}
	if w.suspended > 0 {
		return
	}
	if err == nil {
		w.digest = digest
	}
	clear(w.state)
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}

			// New folders need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.report(err)
					}
				}
			}

			w.stateMu.Lock()
			if w.suspended == 0 {
				w.state[event.Name] = time.Now()
			}
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.interval / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkStable(now)
		}
	}
}

// checkStable emits an Event once every pending path has been quiet for the
// debounce interval and the tree content actually differs from the last
// baseline. The digest is computed without holding the lock.
func (w *Watcher) checkStable(now time.Time) {
	threshold := now.Add(-w.interval)

	w.stateMu.Lock()
	if len(w.state) == 0 || w.suspended > 0 {
		w.stateMu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.state))
	latest := time.Time{}
	for path, at := range w.state {
		paths = append(paths, path)
		if at.After(latest) {
			latest = at
		}
	}
	w.stateMu.Unlock()

	if latest.After(threshold) {
		return
	}

	digest, err := TreeDigest(w.root)
	if err != nil {
		w.report(err)
		return
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.suspended > 0 {
		return
	}
	// Anything that arrived while hashing waits for the next round.
	for _, at := range w.state {
		if at.After(latest) {
			return
		}
	}
	clear(w.state)
	if digest == w.digest {
		return
	}

	sort.Strings(paths)
	select {
	case w.events <- Event{Paths: paths, Digest: digest, Timestamp: now}:
		w.digest = digest
		w.log.Debug("item tree changed on disk", "paths", len(paths))
	default:
		// Event channel full; the next change will report again.
	}
}

// TreeDigest hashes the directory layout below root and every
// non-temporary file together with its relative path.
func TreeDigest(root string) ([32]byte, error) {
	h := sha256.New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." {
				io.WriteString(h, rel+"/")
				h.Write([]byte{0})
			}
			return nil
		}
		if isTempFile(d.Name()) {
			return nil
		}
		sum, _, err := HashFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		io.WriteString(h, rel)
		h.Write([]byte{0})
		h.Write(sum[:])
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

func isTempFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".tmp" || ext == ".swp" || (len(name) > 0 && name[len(name)-1] == '~')
}

// HashFile computes SHA-256 hash of a file using streaming.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Pending returns the number of paths waiting for the debounce interval.
func (w *Watcher) Pending() int {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return len(w.state)
}
