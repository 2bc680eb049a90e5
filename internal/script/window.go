package script

import (
	"regexp"
	"time"

	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/window"
)

const pollInterval = 300 * time.Millisecond

func (c *call) windowModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"get_active_title":    c.activeTitle,
		"get_active_class":    c.activeClass,
		"get_active_geometry": c.activeGeometry,
		"wait_for_focus":      c.waitForFocus,
		"wait_for_exist":      c.waitForExist,
		"activate":            c.activateWindow,
		"close":               c.closeWindow,
		"resize_move":         c.resizeMove,
		"list":                c.listWindows,
	})
}

func (c *call) windows() window.Manager {
	return c.r.deps.Mediator.Interface().Windows()
}

func (c *call) active() window.Info {
	info, err := c.windows().Active(c.ctx)
	c.check(err)
	return info
}

func (c *call) activeTitle(L *lua.LState) int {
	L.Push(lua.LString(c.active().Title))
	return 1
}

func (c *call) activeClass(L *lua.LState) int {
	L.Push(lua.LString(c.active().Class))
	return 1
}

// get_active_geometry() -> x, y, width, height
func (c *call) activeGeometry(L *lua.LState) int {
	g, err := c.windows().ActiveGeometry(c.ctx)
	c.check(err)
	L.Push(lua.LNumber(g.X))
	L.Push(lua.LNumber(g.Y))
	L.Push(lua.LNumber(g.Width))
	L.Push(lua.LNumber(g.Height))
	return 4
}

// poll calls cond until it holds, the timeout passes or the run is cancelled.
func (c *call) poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

func (c *call) regexArg(L *lua.LState, n int) *regexp.Regexp {
	re, err := regexp.Compile(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return re
}

// wait_for_focus(title_regex, timeout=5) -> bool
func (c *call) waitForFocus(L *lua.LState) int {
	re := c.regexArg(L, 1)
	ok := c.poll(seconds(L.OptNumber(2, 5)), func() bool {
		info, err := c.windows().Active(c.ctx)
		return err == nil && re.MatchString(info.Title)
	})
	L.Push(lua.LBool(ok))
	return 1
}

// wait_for_exist(title_regex, timeout=5) -> bool
func (c *call) waitForExist(L *lua.LState) int {
	re := c.regexArg(L, 1)
	ok := c.poll(seconds(L.OptNumber(2, 5)), func() bool {
		list, err := c.windows().List(c.ctx)
		if err != nil {
			return false
		}
		for _, w := range list {
			if re.MatchString(w.Title) {
				return true
			}
		}
		return false
	})
	L.Push(lua.LBool(ok))
	return 1
}

// activate(title, by_id=false)
func (c *call) activateWindow(L *lua.LState) int {
	c.check(c.windows().Activate(c.ctx, L.CheckString(1), L.OptBool(2, false)))
	return 0
}

// close(title, by_id=false)
func (c *call) closeWindow(L *lua.LState) int {
	c.check(c.windows().Close(c.ctx, L.CheckString(1), L.OptBool(2, false)))
	return 0
}

// resize_move(title, x, y, width, height, by_id=false)
func (c *call) resizeMove(L *lua.LState) int {
	g := window.Geometry{X: L.CheckInt(2), Y: L.CheckInt(3), Width: L.CheckInt(4), Height: L.CheckInt(5)}
	c.check(c.windows().MoveResize(c.ctx, L.CheckString(1), g, L.OptBool(6, false)))
	return 0
}

// list() -> {{id=, title=, class=, desktop=, x=, y=, width=, height=}, ...}
func (c *call) listWindows(L *lua.LState) int {
	list, err := c.windows().List(c.ctx)
	c.check(err)
	out := L.NewTable()
	for _, w := range list {
		t := L.NewTable()
		t.RawSetString("id", lua.LString(w.ID))
		t.RawSetString("title", lua.LString(w.Title))
		t.RawSetString("class", lua.LString(w.Class))
		t.RawSetString("desktop", lua.LNumber(w.Desktop))
		t.RawSetString("x", lua.LNumber(w.X))
		t.RawSetString("y", lua.LNumber(w.Y))
		t.RawSetString("width", lua.LNumber(w.Width))
		t.RawSetString("height", lua.LNumber(w.Height))
		out.Append(t)
	}
	L.Push(out)
	return 1
}
