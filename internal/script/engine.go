package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"autokeyd/internal/keys"
	"autokeyd/internal/model"
)

const nodeType = "autokeyd.node"

func (c *call) engineModule() *lua.LTable {
	return c.module(map[string]lua.LGFunction{
		"create_phrase":              c.createPhrase,
		"create_folder":              c.createFolder,
		"create_abbreviation":        c.createAbbreviation,
		"create_hotkey":              c.createHotkey,
		"get_folder":                 c.getFolder,
		"run_script":                 c.runScript,
		"remove_all_temporary":       c.removeAllTemporary,
		"get_script_arguments":       c.scriptArguments,
		"get_macro_arguments":        c.macroArguments,
		"set_return_value":           c.setReturnValue,
		"get_triggered_abbreviation": c.triggeredAbbreviation,
	})
}

// Folders and items reach Lua as userdata with read-only fields.

func (c *call) registerNodeType() {
	L := c.L
	mt := L.NewTypeMetatable(nodeType)
	L.SetField(mt, "__index", L.NewFunction(nodeIndex))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		n := checkNode(L, 1)
		L.Push(lua.LString(fmt.Sprintf("%T(%s)", n, n.Name())))
		return 1
	}))
}

func (c *call) pushNode(n model.Node) {
	ud := c.L.NewUserData()
	ud.Value = n
	c.L.SetMetatable(ud, c.L.GetTypeMetatable(nodeType))
	c.L.Push(ud)
}

func checkNode(L *lua.LState, n int) model.Node {
	ud := L.CheckUserData(n)
	node, ok := ud.Value.(model.Node)
	if !ok {
		L.ArgError(n, "folder or item expected")
	}
	return node
}

func checkFolder(L *lua.LState, n int) *model.Folder {
	f, ok := checkNode(L, n).(*model.Folder)
	if !ok {
		L.ArgError(n, "folder expected")
	}
	return f
}

func nodeIndex(L *lua.LState) int {
	n := checkNode(L, 1)
	s := n.Base()
	switch L.CheckString(2) {
	case "id":
		L.Push(lua.LString(s.ID))
	case "name", "title", "description":
		L.Push(lua.LString(n.Name()))
	case "temporary":
		L.Push(lua.LBool(s.Temporary))
	case "usage_count":
		L.Push(lua.LNumber(s.UsageCount))
	case "abbreviations":
		L.Push(stringsTable(L, s.Abbr.Abbreviations))
	case "hotkey":
		if s.Hotkey.IsSet() {
			L.Push(lua.LString(s.Hotkey.String()))
		} else {
			L.Push(lua.LNil)
		}
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// get_folder(title) -> folder or nil
func (c *call) getFolder(L *lua.LState) int {
	title := L.CheckString(1)
	idx := c.r.deps.Index
	var (
		f   *model.Folder
		err error
	)
	idx.Read(func() { f, err = idx.FolderByTitle(title) })
	if errors.Is(err, model.ErrNotFound) {
		L.Push(lua.LNil)
		return 1
	}
	c.check(err)
	c.pushNode(f)
	return 1
}

// create_folder(title, parent=nil, temporary=false) -> folder
//
// An existing sibling with the same title is returned unchanged.
func (c *call) createFolder(L *lua.LState) int {
	title := L.CheckString(1)
	var parent *model.Folder
	if L.Get(2) != lua.LNil {
		parent = checkFolder(L, 2)
	}
	temporary := L.OptBool(3, false)
	idx := c.r.deps.Index

	var existing *model.Folder
	idx.Read(func() {
		siblings := idx.Folders()
		if parent != nil {
			siblings = parent.Folders
		}
		for _, f := range siblings {
			if f.Title == title {
				existing = f
				return
			}
		}
	})
	if existing != nil {
		c.pushNode(existing)
		return 1
	}

	f := model.NewFolder(title)
	f.Temporary = temporary
	if parent == nil {
		c.check(idx.AddFolder(f))
	} else {
		c.check(idx.Update(func() error {
			parent.AddFolder(f)
			if err := idx.Validate(f); err != nil {
				parent.RemoveFolder(f)
				return err
			}
			return nil
		}))
	}
	c.pushNode(f)
	return 1
}

// phraseSpec carries the optional create_phrase settings.
type phraseSpec struct {
	abbreviations []string
	hotkeyMods    []keys.Key
	hotkeyKey     string
	sendMode      model.SendMode
	filter        string
	showInTray    bool
	prompt        bool
	temporary     bool
	replaceHotkey bool
}

func parsePhraseOptions(L *lua.LState, t *lua.LTable) phraseSpec {
	spec := phraseSpec{sendMode: model.SendKeyboard}
	if t == nil {
		return spec
	}
	switch v := t.RawGetString("abbreviations").(type) {
	case lua.LString:
		spec.abbreviations = []string{string(v)}
	case *lua.LTable:
		for i := 1; i <= v.Len(); i++ {
			spec.abbreviations = append(spec.abbreviations, lua.LVAsString(v.RawGetInt(i)))
		}
	}
	if hk, ok := t.RawGetString("hotkey").(*lua.LTable); ok {
		if mods, ok := hk.RawGetString("modifiers").(*lua.LTable); ok {
			for i := 1; i <= mods.Len(); i++ {
				spec.hotkeyMods = append(spec.hotkeyMods, keys.Key(lua.LVAsString(mods.RawGetInt(i))))
			}
		}
		spec.hotkeyKey, _ = stringField(hk, "key")
		if spec.hotkeyKey == "" {
			L.RaiseError("hotkey needs a key")
		}
	}
	if m, ok := stringField(t, "send_mode"); ok {
		spec.sendMode = model.SendMode(m)
		if !spec.sendMode.Valid() {
			L.RaiseError("unknown send mode %q", m)
		}
	}
	spec.filter, _ = stringField(t, "window_filter")
	spec.showInTray = boolField(t, "show_in_tray")
	spec.prompt = boolField(t, "prompt")
	spec.temporary = boolField(t, "temporary")
	spec.replaceHotkey = boolField(t, "replace_existing_hotkey")
	return spec
}

// create_phrase(folder, name, contents, {abbreviations=, hotkey={modifiers=, key=},
// send_mode=, window_filter=, show_in_tray=, prompt=, temporary=,
// replace_existing_hotkey=}) -> phrase
func (c *call) createPhrase(L *lua.LState) int {
	folder := checkFolder(L, 1)
	name := L.CheckString(2)
	contents := L.CheckString(3)
	spec := parsePhraseOptions(L, L.OptTable(4, nil))

	p, err := c.addPhrase(folder, name, contents, spec)
	c.check(err)
	c.pushNode(p)
	return 1
}

// create_abbreviation(folder, description, abbr, contents)
func (c *call) createAbbreviation(L *lua.LState) int {
	folder := checkFolder(L, 1)
	spec := phraseSpec{sendMode: model.SendKeyboard, abbreviations: []string{L.CheckString(3)}}
	p, err := c.addPhrase(folder, L.CheckString(2), L.CheckString(4), spec)
	c.check(err)
	c.pushNode(p)
	return 1
}

// create_hotkey(folder, description, modifiers, key, contents)
func (c *call) createHotkey(L *lua.LState) int {
	folder := checkFolder(L, 1)
	spec := phraseSpec{sendMode: model.SendKeyboard, hotkeyKey: L.CheckString(4)}
	for _, m := range stringsArg(L, 3) {
		spec.hotkeyMods = append(spec.hotkeyMods, keys.Key(m))
	}
	p, err := c.addPhrase(folder, L.CheckString(2), L.CheckString(5), spec)
	c.check(err)
	c.pushNode(p)
	return 1
}

func (c *call) addPhrase(folder *model.Folder, name, contents string, spec phraseSpec) (*model.Phrase, error) {
	p := model.NewPhrase(name, contents)
	p.SendMode = spec.sendMode
	p.ShowInTray = spec.showInTray
	p.Prompt = spec.prompt
	p.Temporary = spec.temporary || folder.Temporary
	if len(spec.abbreviations) > 0 {
		if err := p.AddAbbreviation(spec.abbreviations...); err != nil {
			return nil, err
		}
	}
	if spec.hotkeyKey != "" {
		if err := p.SetHotkey(spec.hotkeyMods, spec.hotkeyKey); err != nil {
			return nil, err
		}
	}
	if spec.filter != "" {
		if err := p.SetWindowFilter(spec.filter, false); err != nil {
			return nil, err
		}
	}

	idx := c.r.deps.Index
	var stolen model.Node
	err := idx.Update(func() error {
		folder.AddItem(p)
		if spec.replaceHotkey && p.Hotkey.IsSet() {
			var scope *string
			if spec.filter != "" {
				scope = &spec.filter
			}
			n := idx.ItemWithHotkey(p.Hotkey.Modifiers, p.Hotkey.Key, scope)
			if _, global := n.(*model.GlobalHotkey); n != nil && !global {
				n.Base().UnsetHotkey()
				stolen = n
			}
		}
		if err := idx.Validate(p); err != nil {
			folder.RemoveItem(p)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create phrase %q: %w", name, err)
	}
	if stolen != nil && c.r.deps.HotkeyRemoved != nil {
		c.r.deps.HotkeyRemoved(stolen)
	}
	if p.HasMode(model.ModeHotkey) && c.r.deps.HotkeyCreated != nil {
		c.r.deps.HotkeyCreated(p)
	}
	return p, nil
}

// run_script(name, ...) -> return value of the called script
func (c *call) runScript(L *lua.LState) int {
	name := L.CheckString(1)
	args := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.ToStringMeta(L.Get(i)).String())
	}
	if c.inv.depth >= maxDepth {
		L.RaiseError("run_script nested deeper than %d", maxDepth)
	}
	inv, err := c.r.resolve(name, c.inv)
	c.check(err)
	inv.args = args
	inv.macroArgs = c.inv.macroArgs
	c.check(c.r.run(c.ctx, inv))
	L.Push(lua.LString(inv.ret))
	return 1
}

// remove_all_temporary()
func (c *call) removeAllTemporary(L *lua.LState) int {
	c.r.deps.Index.RemoveAllTemporary()
	return 0
}

func (c *call) scriptArguments(L *lua.LState) int {
	L.Push(stringsTable(L, c.inv.args))
	return 1
}

func (c *call) macroArguments(L *lua.LState) int {
	L.Push(stringsTable(L, c.inv.macroArgs))
	return 1
}

// set_return_value(value): the value becomes the text of a <script> macro.
func (c *call) setReturnValue(L *lua.LState) int {
	c.inv.ret = L.ToStringMeta(L.CheckAny(1)).String()
	return 0
}

// get_triggered_abbreviation() -> abbreviation, trigger character; both
// nil unless an abbreviation started the run.
func (c *call) triggeredAbbreviation(L *lua.LState) int {
	if !c.inv.triggered {
		L.Push(lua.LNil)
		L.Push(lua.LNil)
		return 2
	}
	L.Push(lua.LString(c.inv.abbr))
	L.Push(lua.LString(c.inv.trigger))
	return 2
}
