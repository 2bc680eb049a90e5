package script

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/keys"
)

func (c *call) keyboardModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"send_keys":         c.sendKeys,
		"send_key":          c.sendKey,
		"press_key":         c.pressKey,
		"release_key":       c.releaseKey,
		"fake_keypress":     c.fakeKeypress,
		"wait_for_keypress": c.waitForKeypress,
	})
}

func (c *call) send(fn func() error) {
	c.check(c.r.deps.Mediator.Send(fn))
}

// send_keys(text)
func (c *call) sendKeys(L *lua.LState) int {
	s := L.CheckString(1)
	med := c.r.deps.Mediator
	c.send(func() error { return med.SendString(s) })
	return 0
}

// send_key(key, repeat=1)
func (c *call) sendKey(L *lua.LState) int {
	key := L.CheckString(1)
	n := L.OptInt(2, 1)
	med := c.r.deps.Mediator
	c.send(func() error {
		for i := 0; i < n; i++ {
			if err := med.SendKey(key); err != nil {
				return err
			}
		}
		return nil
	})
	return 0
}

// press_key(key)
func (c *call) pressKey(L *lua.LState) int {
	key := L.CheckString(1)
	med := c.r.deps.Mediator
	c.send(func() error { return med.PressKey(key) })
	return 0
}

// release_key(key)
func (c *call) releaseKey(L *lua.LState) int {
	key := L.CheckString(1)
	med := c.r.deps.Mediator
	c.send(func() error { return med.ReleaseKey(key) })
	return 0
}

// fake_keypress(key, repeat=1)
func (c *call) fakeKeypress(L *lua.LState) int {
	key := L.CheckString(1)
	n := L.OptInt(2, 1)
	med := c.r.deps.Mediator
	c.send(func() error {
		for i := 0; i < n; i++ {
			if err := med.FakeKeypress(key); err != nil {
				return err
			}
		}
		return nil
	})
	return 0
}

// wait_for_keypress(key, modifiers={}, timeout=10) -> bool
func (c *call) waitForKeypress(L *lua.LState) int {
	key := L.CheckString(1)
	var mods []keys.Key
	for _, m := range stringsArg(L, 2) {
		mods = append(mods, keys.Key(m))
	}
	timeout := seconds(L.OptNumber(3, 10))
	ok := c.r.deps.Mediator.WaitForKeypress(c.ctx, key, keys.SortModifiers(mods), timeout)
	L.Push(lua.LBool(ok))
	return 1
}

func seconds(n lua.LNumber) time.Duration {
	return time.Duration(float64(n) * float64(time.Second))
}
