package service

import (
	"errors"
	"fmt"

	"autokeyd/internal/config"
	"autokeyd/internal/ipc"
	"autokeyd/internal/model"
	"autokeyd/internal/watcher"
)

// altered is the index's change hook: grabs follow the new tree, and the
// tree is written out when the change came from inside the engine.
func (s *Service) altered(persist bool) {
	s.syncHotkeys()
	if !persist {
		return
	}
	if err := s.persist(); err != nil {
		s.log.Error("save item tree", "error", err)
	}
}

// persist writes every top-level folder below the items directory. The
// tree watcher is suspended meanwhile so the save is not read back.
func (s *Service) persist() error {
	root := s.itemsDir
	if root == "" {
		return nil
	}
	if w := s.deps.Watcher; w != nil {
		w.Suspend()
		defer w.Unsuspend()
	}

	var errs []error
	// SaveFolder assigns paths to new nodes, so the write lock is needed.
	s.idx.Write(func() {
		for _, f := range s.idx.Folders() {
			if err := model.SaveFolder(f, root); err != nil {
				errs = append(errs, fmt.Errorf("save folder %q: %w", f.Title, err))
			}
		}
	})
	return errors.Join(errs...)
}

// ReloadTree re-reads the item tree from disk and swaps it in. Files with
// broken metadata are loaded with defaults; their problems are returned as
// warnings.
func (s *Service) ReloadTree() (folders, items int, warnings []string, err error) {
	tree, loadErr := model.LoadTree(s.itemsDir)
	if tree == nil && loadErr != nil {
		return 0, 0, nil, loadErr
	}
	if loadErr != nil {
		warnings = splitJoined(loadErr)
		for _, w := range warnings {
			s.log.Warn("item tree problem", "detail", w)
		}
	}

	s.idx.Replace(tree)
	s.buffer.Clear()
	s.phrases.ClearLast()

	s.idx.Read(func() {
		folders, items = len(s.idx.AllFolders()), len(s.idx.AllItems())
	})
	s.log.Info("item tree reloaded", "folders", folders, "items", items)
	s.emit(ipc.EventTreeReloaded, map[string]int{"folders": folders, "items": items})
	return folders, items, warnings, nil
}

func splitJoined(err error) []string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func (s *Service) watchTree(w *watcher.Watcher) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			s.log.Debug("item tree changed on disk", "paths", len(ev.Paths))
			if _, _, _, err := s.ReloadTree(); err != nil {
				s.log.Error("reload item tree", "error", err)
			}
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			s.log.Warn("item tree watcher", "error", err)
		}
	}
}

// ApplyConfig takes a new configuration into use. It is registered with the
// config loader. Mediator delays are fixed at start-up.
func (s *Service) ApplyConfig(old, cfg *config.Config) {
	if err := s.phrases.SetWorkAroundApps(cfg.Engine.WorkaroundApps); err != nil {
		s.log.Error("work-around apps not applied", "error", err)
	}
	if err := s.installGlobalHotkeys(cfg); err != nil {
		s.log.Error("engine hotkeys not applied", "error", err)
	}
	s.cfg.Store(cfg)
	s.syncHotkeys()
	s.seedGlobals(cfg)

	if old != nil {
		if old.ClipboardRestoreDelay() != cfg.ClipboardRestoreDelay() ||
			old.SelectionRestoreDelay() != cfg.SelectionRestoreDelay() ||
			old.SendKeyDelay() != cfg.SendKeyDelay() {
			s.log.Warn("send delays change on restart")
		}
		if old.Paths.ItemsDir != cfg.Paths.ItemsDir {
			s.log.Warn("items directory changes on restart", "current", old.Paths.ItemsDir)
		}
	}
	s.emit(ipc.EventConfigChanged, nil)
}
