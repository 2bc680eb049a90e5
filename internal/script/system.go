package script

import (
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

func (c *call) systemModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"exec_command": c.execCommand,
		"create_file":  c.createFile,
	})
}

// exec_command(cmd, get_output=true) -> output
//
// Without get_output the command runs in the background and nothing is
// returned.
func (c *call) execCommand(L *lua.LState) int {
	cmd := L.CheckString(1)
	wait := L.OptBool(2, true)
	run := c.r.deps.Exec

	if !wait {
		ctx := c.r.ctx
		go func() {
			if _, err := run(ctx, "sh", "-c", cmd); err != nil {
				c.r.log.Warn("background command failed", "script", c.inv.name, "error", err)
			}
		}()
		return 0
	}

	out, err := run(c.ctx, "sh", "-c", cmd)
	c.check(err)
	L.Push(lua.LString(strings.TrimRight(string(out), "\n")))
	return 1
}

// create_file(path, contents="")
func (c *call) createFile(L *lua.LState) int {
	path := expandHome(L.CheckString(1))
	contents := L.OptString(2, "")
	c.check(os.MkdirAll(filepath.Dir(path), 0o755))
	c.check(os.WriteFile(path, []byte(contents), 0o644))
	return 0
}
