package keystroke

import (
	"bufio"
	"io"
	"strings"
)

// inputDevice is one block of /proc/bus/input/devices.
type inputDevice struct {
	Name     string
	Handler  string
	Keyboard bool
	Mouse    bool
}

// parseInputDevices reads the /proc/bus/input/devices format.
func parseInputDevices(r io.Reader) ([]inputDevice, error) {
	var (
		devices []inputDevice
		cur     inputDevice
	)
	flush := func() {
		if cur.Handler != "" && (cur.Keyboard || cur.Mouse) {
			devices = append(devices, cur)
		}
		cur = inputDevice{}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				switch {
				case strings.HasPrefix(part, "event"):
					cur.Handler = "/dev/input/" + part
				case part == "kbd":
					cur.Keyboard = true
				case strings.HasPrefix(part, "mouse"):
					cur.Mouse = true
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			// "kbd" is also set on power buttons; a real keyboard has a wide key bitmap
			if len(strings.TrimPrefix(line, "B: KEY=")) <= 20 && !cur.Mouse {
				cur.Keyboard = false
			}
		case line == "":
			flush()
		}
	}
	flush()
	return devices, scanner.Err()
}
