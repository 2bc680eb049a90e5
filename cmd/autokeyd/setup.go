package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"autokeyd/internal/config"
	"autokeyd/internal/keys"
	"autokeyd/internal/model"
)

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default configuration and a sample phrase folder",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing configuration"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			if path == "" {
				path = config.ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !c.Bool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)

			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			existing, _ := model.LoadTree(cfg.Paths.ItemsDir)
			if len(existing) > 0 {
				return nil
			}
			f, err := sampleFolder()
			if err != nil {
				return err
			}
			if err := model.SaveFolder(f, cfg.Paths.ItemsDir); err != nil {
				return err
			}
			fmt.Printf("wrote sample folder %s\n", f.Path)
			return nil
		},
	}
}

func sampleFolder() (*model.Folder, error) {
	f := model.NewFolder("My Phrases")

	addr := model.NewPhrase("Home address", "22 Avenue Street\nBrisbane")
	if err := addr.AddAbbreviation("adr"); err != nil {
		return nil, err
	}

	sig := model.NewPhrase("Signature", "Kind regards,\n$(cursor)")
	if err := sig.SetHotkey([]keys.Key{keys.Control, keys.Shift}, "s"); err != nil {
		return nil, err
	}

	date := model.NewPhrase("Today", "<date format=%Y-%m-%d>")
	if err := date.AddAbbreviation("tdy"); err != nil {
		return nil, err
	}
	date.Abbr.Immediate = true

	f.AddItem(addr)
	f.AddItem(sig)
	f.AddItem(date)
	return f, nil
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the configuration and the item tree",
		Action: func(c *cli.Context) error {
			path := configPath(c)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			failed := false
			for _, v := range config.Check(cfg) {
				kind := "error"
				if v.IsWarning() {
					kind = "warning"
				} else {
					failed = true
				}
				fmt.Printf("%s: %s: %s\n", kind, v.Field, v.Message)
			}

			folders, err := model.LoadTree(cfg.Paths.ItemsDir)
			if err != nil {
				for _, line := range joinedErrors(err) {
					fmt.Printf("items: %s\n", line)
				}
				if folders == nil {
					return cli.Exit("item tree could not be read", 1)
				}
			}
			idx := model.NewIndex(folders...)
			conflicts := 0
			idx.Read(func() {
				for _, it := range idx.AllItems() {
					conflicts += reportConflicts(idx, it)
				}
				fmt.Printf("%s: %d folders, %d items, %d abbreviations, %d hotkeys\n",
					cfg.Paths.ItemsDir,
					len(idx.AllFolders()), len(idx.AllItems()),
					len(idx.Abbreviations()), len(idx.Hotkeys())+len(idx.HotkeyFolders()))
			})

			if failed || conflicts > 0 {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// reportConflicts prints abbreviations and hotkeys of it that another node
// in the same window scope already uses.
func reportConflicts(idx *model.Index, it model.Item) int {
	s := it.Base()
	pattern := s.ApplicablePattern()
	n := 0
	if s.HasMode(model.ModeAbbreviation) {
		for _, a := range s.Abbr.Abbreviations {
			if ok, other := idx.CheckAbbreviationUnique(a, &pattern, it); !ok {
				fmt.Printf("conflict: %q abbreviation %q is also used by %q\n", it.Name(), a, other.Name())
				n++
			}
		}
	}
	if s.HasMode(model.ModeHotkey) {
		if ok, other := idx.CheckHotkeyUnique(s.Hotkey.Modifiers, s.Hotkey.Key, &pattern, it); !ok {
			fmt.Printf("conflict: %q hotkey %s is also used by %q\n",
				it.Name(), keys.FormatHotkey(s.Hotkey.Modifiers, s.Hotkey.Key), other.Name())
			n++
		}
	}
	return n
}

func joinedErrors(err error) []string {
	var j interface{ Unwrap() []error }
	if errors.As(err, &j) {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func importLegacyCmd() *cli.Command {
	return &cli.Command{
		Name:      "import-legacy",
		Usage:     "Convert the settings of a classic autokey.json",
		ArgsUsage: "<autokey.json>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: autokeyd import-legacy <autokey.json>", 2)
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			var legacy map[string]any
			if err := json.Unmarshal(data, &legacy); err != nil {
				return fmt.Errorf("parse %s: %w", c.Args().First(), err)
			}
			cfg, err := config.MigrateLegacyConfig(legacy)
			if err != nil {
				return err
			}
			path := c.String("config")
			if path == "" {
				path = config.ConfigPath()
			}
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}
