package script

import (
	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/keystroke"
)

func (c *call) mouseModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"click_relative":      c.clickRelative,
		"click_relative_self": c.clickRelativeSelf,
		"click_absolute":      c.clickAbsolute,
		"move":                c.moveMouse,
		"scroll":              c.scroll,
		"wait_for_click":      c.waitForClick,
	})
}

func buttonArg(L *lua.LState, n int) keystroke.Button {
	b := L.OptInt(n, int(keystroke.ButtonLeft))
	if b < int(keystroke.ButtonLeft) || b > int(keystroke.ButtonRight) {
		L.ArgError(n, "button must be 1 (left), 2 (middle) or 3 (right)")
	}
	return keystroke.Button(b)
}

// click_relative(x, y, button=1): relative to the active window.
func (c *call) clickRelative(L *lua.LState) int {
	x, y := L.CheckInt(1), L.CheckInt(2)
	b := buttonArg(L, 3)
	geo, err := c.r.deps.Mediator.Interface().Windows().ActiveGeometry(c.ctx)
	c.check(err)
	c.check(c.r.deps.Mediator.Interface().Pointer().ClickAt(geo.X+x, geo.Y+y, b))
	return 0
}

// click_relative_self(x, y, button=1): relative to the pointer.
func (c *call) clickRelativeSelf(L *lua.LState) int {
	x, y := L.CheckInt(1), L.CheckInt(2)
	b := buttonArg(L, 3)
	p := c.r.deps.Mediator.Interface().Pointer()
	px, py := p.Location()
	c.check(p.ClickAt(px+x, py+y, b))
	return 0
}

// click_absolute(x, y, button=1)
func (c *call) clickAbsolute(L *lua.LState) int {
	x, y := L.CheckInt(1), L.CheckInt(2)
	b := buttonArg(L, 3)
	c.check(c.r.deps.Mediator.Interface().Pointer().ClickAt(x, y, b))
	return 0
}

// move(x, y)
func (c *call) moveMouse(L *lua.LState) int {
	c.check(c.r.deps.Mediator.Interface().Pointer().Move(L.CheckInt(1), L.CheckInt(2)))
	return 0
}

// scroll(dx, dy): positive dy scrolls down.
func (c *call) scroll(L *lua.LState) int {
	c.check(c.r.deps.Mediator.Interface().Pointer().Scroll(L.CheckInt(1), L.CheckInt(2)))
	return 0
}

// wait_for_click(button=1, timeout=10) -> bool
func (c *call) waitForClick(L *lua.LState) int {
	b := buttonArg(L, 1)
	ok := c.r.deps.Mediator.WaitForClick(c.ctx, b, seconds(L.OptNumber(2, 10)))
	L.Push(lua.LBool(ok))
	return 1
}
