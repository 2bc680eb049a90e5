package model

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"autokeyd/internal/keys"
)

// On-disk layout: every folder is a directory holding folder.json; a phrase
// is name.txt and a script name.lua, each with metadata in .name.json.
const (
	folderMetaFile = "folder.json"
	phraseExt      = ".txt"
	scriptExt      = ".lua"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://autokeyd.local/schema/item-v1.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func metadataSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateMetadata checks raw metadata JSON against the item schema.
func ValidateMetadata(data []byte) error {
	s, err := metadataSchema()
	if err != nil {
		return fmt.Errorf("compile metadata schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

type abbrJSON struct {
	Abbreviations []string `json:"abbreviations"`
	Backspace     bool     `json:"backspace"`
	IgnoreCase    bool     `json:"ignoreCase"`
	Immediate     bool     `json:"immediate"`
	TriggerInside bool     `json:"triggerInside"`
	WordChars     string   `json:"wordChars"`
}

type hotkeyJSON struct {
	Modifiers []string `json:"modifiers"`
	HotKey    *string  `json:"hotKey"`
}

type filterJSON struct {
	Regex       *string `json:"regex"`
	IsRecursive bool    `json:"isRecursive"`
}

type metaJSON struct {
	Type           string        `json:"type"`
	ID             string        `json:"id,omitempty"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Modes          []TriggerMode `json:"modes"`
	UsageCount     int           `json:"usageCount"`
	Prompt         bool          `json:"prompt,omitempty"`
	OmitTrigger    bool          `json:"omitTrigger,omitempty"`
	MatchCase      bool          `json:"matchCase,omitempty"`
	ShowInTrayMenu bool          `json:"showInTrayMenu"`
	SendMode       SendMode      `json:"sendMode,omitempty"`
	Abbreviation   abbrJSON      `json:"abbreviation"`
	Hotkey         hotkeyJSON    `json:"hotkey"`
	Filter         filterJSON    `json:"filter"`
}

func encodeSettings(m *metaJSON, s *Settings) {
	m.ID = s.ID
	m.Modes = append([]TriggerMode{}, s.Modes...)
	m.UsageCount = s.UsageCount
	m.ShowInTrayMenu = s.ShowInTray
	m.Abbreviation = abbrJSON{
		Abbreviations: append([]string{}, s.Abbr.Abbreviations...),
		Backspace:     s.Abbr.Backspace,
		IgnoreCase:    s.Abbr.IgnoreCase,
		Immediate:     s.Abbr.Immediate,
		TriggerInside: s.Abbr.TriggerInside,
		WordChars:     s.Abbr.WordChars(),
	}
	if s.Hotkey.IsSet() {
		key := s.Hotkey.Key
		m.Hotkey.HotKey = &key
		for _, mod := range s.Hotkey.Modifiers {
			m.Hotkey.Modifiers = append(m.Hotkey.Modifiers, string(mod))
		}
	}
	if s.Filter.IsSet() {
		p := s.Filter.Pattern()
		m.Filter = filterJSON{Regex: &p, IsRecursive: s.Filter.Recursive}
	}
}

func decodeSettings(m *metaJSON, s *Settings) error {
	if m.ID != "" {
		s.ID = m.ID
	}
	s.Modes = nil
	for _, mode := range m.Modes {
		if mode == ModeAbbreviation || mode == ModeHotkey {
			s.addMode(mode)
		}
	}
	s.UsageCount = m.UsageCount
	s.ShowInTray = m.ShowInTrayMenu

	s.Abbr.Abbreviations = m.Abbreviation.Abbreviations
	s.Abbr.Backspace = m.Abbreviation.Backspace
	s.Abbr.IgnoreCase = m.Abbreviation.IgnoreCase
	s.Abbr.Immediate = m.Abbreviation.Immediate
	s.Abbr.TriggerInside = m.Abbreviation.TriggerInside
	if wc := m.Abbreviation.WordChars; wc != "" {
		if err := s.Abbr.SetWordChars(wc); err != nil {
			return err
		}
	}

	if m.Hotkey.HotKey != nil && *m.Hotkey.HotKey != "" {
		mods := make([]keys.Key, 0, len(m.Hotkey.Modifiers))
		for _, mod := range m.Hotkey.Modifiers {
			mods = append(mods, keys.Key(mod))
		}
		hasMode := s.HasMode(ModeHotkey)
		if err := s.SetHotkey(mods, *m.Hotkey.HotKey); err != nil {
			return err
		}
		if !hasMode {
			s.removeMode(ModeHotkey)
		}
	}

	if m.Filter.Regex != nil {
		if err := s.SetWindowFilter(*m.Filter.Regex, m.Filter.IsRecursive); err != nil {
			return err
		}
	}
	return nil
}

func readMeta(path string) (*metaJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateMetadata(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var m metaJSON
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func writeMeta(path string, m *metaJSON) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func metaPath(itemPath string) string {
	dir, base := filepath.Split(itemPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "."+base+".json")
}

// LoadTree reads every top-level folder under root. Broken metadata does
// not stop the load: the node keeps its defaults and the problem is
// returned in the joined error next to the folders.
func LoadTree(root string) ([]*Folder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read item tree: %w", err)
	}
	var (
		folders []*Folder
		errs    []error
	)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		f, ferrs := LoadFolder(filepath.Join(root, e.Name()))
		folders = append(folders, f)
		errs = append(errs, ferrs...)
	}
	return folders, errors.Join(errs...)
}

// LoadFolder reads one folder directory recursively.
func LoadFolder(dir string) (*Folder, []error) {
	f := NewFolder(filepath.Base(dir))
	f.Path = dir
	var errs []error

	if m, err := readMeta(filepath.Join(dir, folderMetaFile)); err == nil {
		f.Title = m.Title
		if err := decodeSettings(m, &f.Settings); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return f, append(errs, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			child, cerrs := LoadFolder(path)
			f.AddFolder(child)
			errs = append(errs, cerrs...)
			continue
		}
		var (
			item Item
			err  error
		)
		switch filepath.Ext(e.Name()) {
		case phraseExt:
			item, err = loadPhrase(path)
		case scriptExt:
			item, err = loadScript(path)
		default:
			continue
		}
		if item != nil {
			f.AddItem(item)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return f, errs
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func loadPhrase(path string) (Item, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := NewPhrase(baseName(path), string(body))
	p.Path = path
	m, err := readMeta(metaPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.Description = m.Description
	p.Prompt, p.OmitTrigger, p.MatchCase = m.Prompt, m.OmitTrigger, m.MatchCase
	if m.SendMode.Valid() {
		p.SendMode = m.SendMode
	}
	if err := decodeSettings(m, &p.Settings); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func loadScript(path string) (Item, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := NewScript(baseName(path), string(code))
	s.Path = path
	m, err := readMeta(metaPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	s.Description = m.Description
	s.Prompt, s.OmitTrigger = m.Prompt, m.OmitTrigger
	if err := decodeSettings(m, &s.Settings); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// SafePath returns a free path in dir for name, keeping only letters,
// digits and "_ -." and appending a counter on collision.
func SafePath(dir, name, ext string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_ -.", r) {
			b.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(b.String(), " ", "_")
	if safe == "" {
		safe = "1"
	}
	candidate := func(n int) string {
		if n == 0 {
			return filepath.Join(dir, safe+ext)
		}
		return filepath.Join(dir, safe+strconv.Itoa(n)+ext)
	}
	for n := 0; ; n++ {
		p := candidate(n)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			if _, err := os.Stat(metaPath(p)); errors.Is(err, os.ErrNotExist) {
				return p
			}
		}
	}
}

// SaveFolder writes f and its descendants under parentDir, assigning paths
// to nodes that have none. Temporary nodes are skipped.
func SaveFolder(f *Folder, parentDir string) error {
	if f.Temporary {
		return nil
	}
	if f.Path == "" {
		f.Path = SafePath(parentDir, f.Title, "")
	}
	if err := os.MkdirAll(f.Path, 0o700); err != nil {
		return err
	}
	m := &metaJSON{Type: "folder", Title: f.Title}
	encodeSettings(m, &f.Settings)
	if err := writeMeta(filepath.Join(f.Path, folderMetaFile), m); err != nil {
		return err
	}
	for _, it := range f.Items {
		if err := SaveItem(it, f.Path); err != nil {
			return err
		}
	}
	for _, c := range f.Folders {
		if err := SaveFolder(c, f.Path); err != nil {
			return err
		}
	}
	return nil
}

// SaveItem writes a phrase or script and its metadata into dir.
func SaveItem(it Item, dir string) error {
	if it.Base().Temporary {
		return nil
	}
	switch v := it.(type) {
	case *Phrase:
		if v.Path == "" {
			v.Path = SafePath(dir, v.Description, phraseExt)
		}
		m := &metaJSON{Type: "phrase", Description: v.Description, Prompt: v.Prompt,
			OmitTrigger: v.OmitTrigger, MatchCase: v.MatchCase, SendMode: v.SendMode}
		encodeSettings(m, &v.Settings)
		if err := writeMeta(metaPath(v.Path), m); err != nil {
			return err
		}
		return writeFileAtomic(v.Path, []byte(v.Body))
	case *Script:
		if v.Path == "" {
			v.Path = SafePath(dir, v.Description, scriptExt)
		}
		m := &metaJSON{Type: "script", Description: v.Description, Prompt: v.Prompt, OmitTrigger: v.OmitTrigger}
		encodeSettings(m, &v.Settings)
		if err := writeMeta(metaPath(v.Path), m); err != nil {
			return err
		}
		return writeFileAtomic(v.Path, []byte(v.Code))
	default:
		return fmt.Errorf("unsupported item type %T", it)
	}
}

// RemoveData deletes the files of n. A folder directory that still holds
// foreign files is left in place.
func RemoveData(n Node) error {
	switch v := n.(type) {
	case *Folder:
		if v.Path == "" {
			return nil
		}
		for _, it := range v.Items {
			if err := RemoveData(it); err != nil {
				return err
			}
		}
		for _, c := range v.Folders {
			if err := RemoveData(c); err != nil {
				return err
			}
		}
		if err := os.Remove(filepath.Join(v.Path, folderMetaFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.Remove(v.Path); err != nil && !errors.Is(err, os.ErrNotExist) && !isNotEmpty(err) {
			return err
		}
		return nil
	case *Phrase:
		return removeFiles(v.Path)
	case *Script:
		return removeFiles(v.Path)
	}
	return nil
}

func removeFiles(path string) error {
	if path == "" {
		return nil
	}
	for _, p := range []string{path, metaPath(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
