//go:build linux

package keystroke

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// EvdevHook reads keyboards and mice from /dev/input.
type EvdevHook struct {
	BaseHook
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	devices map[string]*os.File
	// Exclude names devices to skip, such as our own uinput injector.
	Exclude []string
}

func newPlatformHook() Hook {
	return &EvdevHook{}
}

func (h *EvdevHook) findDevices() ([]inputDevice, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	all, err := parseInputDevices(f)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, d := range all {
		if h.excluded(d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (h *EvdevHook) excluded(name string) bool {
	for _, ex := range h.Exclude {
		if ex != "" && strings.Contains(name, ex) {
			return true
		}
	}
	return false
}

// Available checks if we can read input devices.
func (h *EvdevHook) Available() (bool, string) {
	devices, err := h.findDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot list input devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}
	for _, d := range devices {
		f, err := os.OpenFile(d.Handler, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("found input device: %s (%s)", d.Handler, d.Name)
		}
	}
	return false, "cannot read input devices (need to be in 'input' group or run as root)"
}

// Start opens every keyboard and mouse and begins delivering events.
func (h *EvdevHook) Start(ctx context.Context, sink Sink) error {
	if h.IsRunning() {
		return ErrAlreadyRunning
	}
	devices, err := h.findDevices()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	h.mu.Lock()
	h.devices = make(map[string]*os.File)
	var denied bool
	for _, d := range devices {
		if err := h.openLocked(d.Handler); err != nil && errors.Is(err, os.ErrPermission) {
			denied = true
		}
	}
	opened := len(h.devices)
	h.mu.Unlock()
	if opened == 0 {
		if denied {
			return ErrPermissionDenied
		}
		return ErrNotAvailable
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	h.SetRunning(true, sink)

	go h.readLoop(ctx)
	go h.watchHotplug(ctx)
	return nil
}

func (h *EvdevHook) openLocked(path string) error {
	if _, ok := h.devices[path]; ok {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	h.devices[path] = f
	return nil
}

// watchHotplug opens keyboards that appear after Start.
func (h *EvdevHook) watchHotplug(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer w.Close()
	if err := w.Add("/dev/input"); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) || !strings.HasPrefix(filepath.Base(ev.Name), "event") {
				continue
			}
			// udev needs a moment to apply group permissions
			time.Sleep(200 * time.Millisecond)
			devices, err := h.findDevices()
			if err != nil {
				continue
			}
			h.mu.Lock()
			for _, d := range devices {
				if d.Handler == ev.Name {
					_ = h.openLocked(d.Handler)
				}
			}
			h.mu.Unlock()
		case <-w.Errors:
		}
	}
}

// inputEvent matches the Linux input_event struct.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

const (
	evKey = 1
	// pollTimeout bounds how long Stop waits for the read loop.
	pollTimeout = 250
)

var eventSize = binary.Size(inputEvent{})

func (h *EvdevHook) readLoop(ctx context.Context) {
	defer close(h.done)
	buf := make([]byte, eventSize*64)

	for ctx.Err() == nil {
		h.mu.Lock()
		fds := make([]unix.PollFd, 0, len(h.devices))
		paths := make([]string, 0, len(h.devices))
		for path, f := range h.devices {
			fds = append(fds, unix.PollFd{Fd: int32(f.Fd()), Events: unix.POLLIN})
			paths = append(paths, path)
		}
		h.mu.Unlock()

		if len(fds) == 0 {
			time.Sleep(pollTimeout * time.Millisecond)
			continue
		}
		n, err := unix.Poll(fds, pollTimeout)
		if err != nil || n == 0 {
			continue
		}
		for i, pfd := range fds {
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				h.drop(paths[i])
				continue
			}
			if pfd.Revents&unix.POLLIN != 0 {
				h.readDevice(paths[i], buf)
			}
		}
	}
}

func (h *EvdevHook) readDevice(path string, buf []byte) {
	h.mu.Lock()
	f := h.devices[path]
	h.mu.Unlock()
	if f == nil {
		return
	}
	n, err := f.Read(buf)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			h.drop(path)
		}
		return
	}
	for off := 0; off+eventSize <= n; off += eventSize {
		if ev, ok := decodeEvent(buf[off:off+eventSize], path); ok {
			h.Emit(ev)
		}
	}
}

// decodeEvent turns one raw input_event into an Event; only EV_KEY records
// are of interest.
func decodeEvent(raw []byte, device string) (Event, bool) {
	typeOff := eventSize - 8
	typ := binary.LittleEndian.Uint16(raw[typeOff : typeOff+2])
	code := binary.LittleEndian.Uint16(raw[typeOff+2 : typeOff+4])
	value := int32(binary.LittleEndian.Uint32(raw[typeOff+4 : typeOff+8]))
	if typ != evKey {
		return Event{}, false
	}
	ev := Event{Action: Action(value), Time: time.Now(), Device: device}
	switch code {
	case BtnLeft:
		ev.Button = ButtonLeft
	case BtnRight:
		ev.Button = ButtonRight
	case BtnMiddle:
		ev.Button = ButtonMiddle
	default:
		if code >= 0x100 {
			return Event{}, false
		}
		ev.Code = code
	}
	return ev, true
}

func (h *EvdevHook) drop(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.devices[path]; ok {
		f.Close()
		delete(h.devices, path)
	}
}

// Stop stops delivery and closes all devices.
func (h *EvdevHook) Stop() error {
	if !h.IsRunning() {
		return nil
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		<-h.done
	}
	h.SetRunning(false, nil)

	h.mu.Lock()
	defer h.mu.Unlock()
	for path, f := range h.devices {
		f.Close()
		delete(h.devices, path)
	}
	return nil
}
