package script

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/store"
)

var errNoStore = errors.New("script store is not available")

func (c *call) storeModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"set_value":           c.setValue,
		"get_value":           c.getValue,
		"remove_value":        c.removeValue,
		"has_key":             c.hasKey,
		"set_global_value":    c.setGlobalValue,
		"get_global_value":    c.getGlobalValue,
		"remove_global_value": c.removeGlobalValue,
	})
}

func (c *call) store() *store.Store {
	if c.r.deps.Store == nil {
		c.check(errNoStore)
	}
	return c.r.deps.Store
}

// pushValue pushes v, or nil when the key is absent.
func (c *call) pushValue(v any, err error) int {
	if errors.Is(err, store.ErrNoValue) {
		c.L.Push(lua.LNil)
		return 1
	}
	c.check(err)
	c.L.Push(toLua(c.L, v))
	return 1
}

// set_value(key, value)
func (c *call) setValue(L *lua.LState) int {
	c.check(c.store().SetValue(c.inv.id, L.CheckString(1), toGo(L.CheckAny(2))))
	return 0
}

// get_value(key) -> value or nil
func (c *call) getValue(L *lua.LState) int {
	return c.pushValue(c.store().Value(c.inv.id, L.CheckString(1)))
}

// remove_value(key)
func (c *call) removeValue(L *lua.LState) int {
	c.check(c.store().RemoveValue(c.inv.id, L.CheckString(1)))
	return 0
}

// has_key(key) -> bool
func (c *call) hasKey(L *lua.LState) int {
	ok, err := c.store().HasKey(c.inv.id, L.CheckString(1))
	c.check(err)
	L.Push(lua.LBool(ok))
	return 1
}

// set_global_value(key, value)
func (c *call) setGlobalValue(L *lua.LState) int {
	c.check(c.store().SetGlobal(L.CheckString(1), toGo(L.CheckAny(2))))
	return 0
}

// get_global_value(key) -> value or nil
func (c *call) getGlobalValue(L *lua.LState) int {
	return c.pushValue(c.store().Global(L.CheckString(1)))
}

// remove_global_value(key)
func (c *call) removeGlobalValue(L *lua.LState) int {
	c.check(c.store().RemoveGlobal(L.CheckString(1)))
	return 0
}
