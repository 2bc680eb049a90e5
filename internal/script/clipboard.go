package script

import (
	lua "github.com/yuin/gopher-lua"
)

func (c *call) clipboardModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"get_clipboard":  c.getClipboard,
		"fill_clipboard": c.fillClipboard,
		"get_selection":  c.getSelection,
		"fill_selection": c.fillSelection,
	})
}

// Clipboard access holds the send-lock so it never interleaves with a
// paste-mode expansion.

func (c *call) getClipboard(L *lua.LState) int {
	var s string
	c.send(func() (err error) {
		s, err = c.r.deps.Mediator.Interface().Clipboard().Text()
		return err
	})
	L.Push(lua.LString(s))
	return 1
}

func (c *call) fillClipboard(L *lua.LState) int {
	s := L.CheckString(1)
	c.send(func() error { return c.r.deps.Mediator.Interface().Clipboard().SetText(s) })
	return 0
}

func (c *call) getSelection(L *lua.LState) int {
	var s string
	c.send(func() (err error) {
		s, err = c.r.deps.Mediator.Interface().Clipboard().Selection()
		return err
	})
	L.Push(lua.LString(s))
	return 1
}

func (c *call) fillSelection(L *lua.LState) int {
	s := L.CheckString(1)
	c.send(func() error { return c.r.deps.Mediator.Interface().Clipboard().SetSelection(s) })
	return 0
}
