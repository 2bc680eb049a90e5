package script

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// newState returns an interpreter with only the base, table, string and
// math libraries, and without the functions that load code from disk or
// strings.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// call binds the modules of one run to its interpreter.
type call struct {
	r   *Runner
	inv *invocation
	ctx context.Context
	L   *lua.LState
}

func (c *call) install() {
	L := c.L
	L.SetGlobal("print", L.NewFunction(c.print))
	c.registerNodeType()

	L.SetGlobal("keyboard", c.keyboardModule())
	L.SetGlobal("mouse", c.mouseModule())
	L.SetGlobal("system", c.systemModule())
	L.SetGlobal("window", c.windowModule())
	L.SetGlobal("clipboard", c.clipboardModule())
	L.SetGlobal("dialog", c.dialogModule())
	L.SetGlobal("engine", c.engineModule())
	L.SetGlobal("store", c.storeModule())
}

// module builds a table of functions.
func (c *call) module(funcs map[string]lua.LGFunction) *lua.LTable {
	mod := c.L.NewTable()
	for name, fn := range funcs {
		c.L.SetField(mod, name, c.L.NewFunction(fn))
	}
	return mod
}

// print goes to the debug log instead of the daemon's stdout.
func (c *call) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	c.r.log.Debug("script output", "script", c.inv.name, "text", strings.Join(parts, "\t"))
	return 0
}

// check raises err as a Lua error.
func (c *call) check(err error) {
	if err != nil {
		c.L.RaiseError("%s", err.Error())
	}
}
