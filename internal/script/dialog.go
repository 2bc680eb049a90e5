package script

import (
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/dialog"
)

var errNoDialogs = errors.New("dialogs are not available")

func (c *call) dialogModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"info_dialog":       c.infoDialog,
		"input_dialog":      c.inputDialog,
		"password_dialog":   c.passwordDialog,
		"list_menu":         c.listMenu,
		"combo_menu":        c.comboMenu,
		"choose_directory":  c.chooseDirectory,
		"open_file":         c.openFile,
		"save_file":         c.saveFile,
		"send_notification": c.sendNotification,
	})
}

func (c *call) dialogs() *dialog.Dialogs {
	if c.r.deps.Dialogs == nil {
		c.check(errNoDialogs)
	}
	return c.r.deps.Dialogs
}

// pushResult returns code, text to Lua.
func (c *call) pushResult(res dialog.Result, err error) int {
	c.check(err)
	c.L.Push(lua.LNumber(res.Code))
	c.L.Push(lua.LString(res.Text))
	return 2
}

// info_dialog(title, message) -> code
func (c *call) infoDialog(L *lua.LState) int {
	res, err := c.dialogs().Info(c.ctx, L.OptString(1, "Information"), L.CheckString(2))
	c.check(err)
	L.Push(lua.LNumber(res.Code))
	return 1
}

// input_dialog(title, message, default="") -> code, text
func (c *call) inputDialog(L *lua.LState) int {
	return c.pushResult(c.dialogs().Input(c.ctx, L.CheckString(1), L.CheckString(2), L.OptString(3, "")))
}

// password_dialog(title, message) -> code, text
func (c *call) passwordDialog(L *lua.LState) int {
	return c.pushResult(c.dialogs().Password(c.ctx, L.CheckString(1), L.CheckString(2)))
}

// list_menu(options, title="Choose a value", message="Choose a value", default="", multiple=false)
// -> code, choice (a list of choices when multiple)
func (c *call) listMenu(L *lua.LState) int {
	options := stringsArg(L, 1)
	multiple := L.OptBool(5, false)
	res, err := c.dialogs().ListMenu(c.ctx, L.OptString(2, "Choose a value"), L.OptString(3, "Choose a value"),
		options, L.OptString(4, ""), multiple)
	if !multiple {
		return c.pushResult(res, err)
	}
	c.check(err)
	var chosen []string
	if res.Text != "" {
		chosen = strings.Split(res.Text, "\n")
	}
	L.Push(lua.LNumber(res.Code))
	L.Push(stringsTable(L, chosen))
	return 2
}

// combo_menu(options, title="Choose an option", message="Choose an option") -> code, choice
func (c *call) comboMenu(L *lua.LState) int {
	return c.pushResult(c.dialogs().ComboMenu(c.ctx, L.OptString(2, "Choose an option"),
		L.OptString(3, "Choose an option"), stringsArg(L, 1)))
}

// choose_directory(title="Select Directory", initial="~") -> code, path
func (c *call) chooseDirectory(L *lua.LState) int {
	return c.pushResult(c.dialogs().ChooseDirectory(c.ctx, L.OptString(1, "Select Directory"),
		expandHome(L.OptString(2, "~"))))
}

// open_file(title="Open File", initial="~", filter="") -> code, path
func (c *call) openFile(L *lua.LState) int {
	return c.pushResult(c.dialogs().OpenFile(c.ctx, L.OptString(1, "Open File"),
		expandHome(L.OptString(2, "~")), L.OptString(3, "")))
}

// save_file(title="Save As", initial="~", filter="") -> code, path
func (c *call) saveFile(L *lua.LState) int {
	return c.pushResult(c.dialogs().SaveFile(c.ctx, L.OptString(1, "Save As"),
		expandHome(L.OptString(2, "~")), L.OptString(3, "")))
}

// send_notification(title, message)
func (c *call) sendNotification(L *lua.LState) int {
	_, err := c.dialogs().Notification(c.ctx, L.CheckString(1), L.OptString(2, ""))
	c.check(err)
	return 0
}
