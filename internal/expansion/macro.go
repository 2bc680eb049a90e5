package expansion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// CursorToken marks where the caret ends up after an expansion.
const CursorToken = "$(cursor)"

// ScriptHost runs the script named by a <script> macro and returns the
// value it set with engine.set_return_value.
type ScriptHost interface {
	RunMacro(ctx context.Context, name string, args []string) (string, error)
}

// Macros expands <date>, <file>, <script> and <cursor> tokens.
type Macros struct {
	Scripts  ScriptHost
	Now      func() time.Time
	ReadFile func(name string) ([]byte, error)
}

// NewMacros returns macros backed by the clock and filesystem.
func NewMacros(scripts ScriptHost) *Macros {
	return &Macros{Scripts: scripts, Now: time.Now, ReadFile: os.ReadFile}
}

type macroFunc func(m *Macros, ctx context.Context, args map[string]string) (string, error)

var macros = map[string]struct {
	required []string
	run      macroFunc
}{
	"cursor": {nil, func(*Macros, context.Context, map[string]string) (string, error) {
		return CursorToken, nil
	}},
	"date":   {[]string{"format"}, (*Macros).date},
	"file":   {[]string{"name"}, (*Macros).file},
	"script": {[]string{"name"}, (*Macros).script},
}

func (m *Macros) date(_ context.Context, args map[string]string) (string, error) {
	return strftime.Format(args["format"], m.Now()), nil
}

func (m *Macros) file(_ context.Context, args map[string]string) (string, error) {
	data, err := m.ReadFile(args["name"])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Macros) script(ctx context.Context, args map[string]string) (string, error) {
	if m.Scripts == nil {
		return "", errors.New("scripts are not available")
	}
	var list []string
	if a := args["args"]; a != "" {
		list = strings.Split(a, ",")
	}
	return m.Scripts.RunMacro(ctx, args["name"], list)
}

// Expand replaces every macro in s. Unknown tokens, including key tokens
// such as <enter>, and escaped brackets are left as they are. A failing
// macro renders as {ERROR: message}.
func (m *Macros) Expand(ctx context.Context, s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\\' && i+1 < len(s) && (s[i+1] == '<' || s[i+1] == '>') {
			b.WriteString(s[i : i+2])
			i += 2
			continue
		}
		if c == '<' {
			if end := strings.IndexAny(s[i+1:], "<>"); end >= 0 && s[i+1+end] == '>' {
				body := s[i+1 : i+1+end]
				if out, ok := m.run(ctx, body); ok {
					b.WriteString(out)
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func (m *Macros) run(ctx context.Context, body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", false
	}
	def, ok := macros[fields[0]]
	if !ok {
		return "", false
	}
	args, err := parseArgs(fields[0], fields[1:], def.required)
	if err == nil {
		var out string
		if out, err = def.run(m, ctx, args); err == nil {
			return out, true
		}
	}
	return fmt.Sprintf("{ERROR: %s}", err), true
}

func parseArgs(id string, fields, required []string) (map[string]string, error) {
	args := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("malformed argument %q for macro %q", f, id)
		}
		args[k] = v
	}
	for _, k := range required {
		if _, ok := args[k]; !ok {
			return nil, fmt.Errorf("missing mandatory argument %q for macro %q", k, id)
		}
	}
	return args, nil
}
