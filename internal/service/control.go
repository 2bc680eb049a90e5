package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"autokeyd/internal/config"
	"autokeyd/internal/ipc"
	"autokeyd/internal/model"
)

var _ ipc.Controller = (*Service)(nil)

// Status reports engine state for autokeyctl.
func (s *Service) Status() ipc.StatusResponse {
	st := ipc.StatusResponse{
		Version:      s.deps.Version,
		PID:          os.Getpid(),
		StartedAt:    s.startedAt,
		Running:      s.running.Load(),
		Monitoring:   s.monitoring.Load(),
		MonitorError: s.MonitoringError(),
		Interface:    s.Config().Interface.Type,
		ItemsDir:     s.itemsDir,
		ScriptErrors: len(s.scripts.Errors()),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt)
	}
	s.idx.Read(func() {
		st.Folders = len(s.idx.AllFolders())
		st.Items = len(s.idx.AllItems())
		st.Abbreviations = len(s.idx.Abbreviations())
		st.Hotkeys = len(s.idx.Hotkeys()) + len(s.idx.HotkeyFolders())
	})
	if s.deps.Store != nil {
		if saved, err := s.deps.Store.TotalSaved(); err == nil {
			st.CharsSaved = saved
		} else {
			s.log.Debug("read expansion stats", "error", err)
		}
	}
	return st
}

// RunPhrase expands the named phrase into the active window, as if its
// hotkey had been pressed.
func (s *Service) RunPhrase(ctx context.Context, name string) error {
	var (
		item model.Item
		err  error
	)
	s.idx.Read(func() { item, err = s.idx.ItemByName(name) })
	if err != nil {
		return err
	}
	p, ok := item.(*model.Phrase)
	if !ok {
		return fmt.Errorf("%q is not a phrase: %w", name, model.ErrNotFound)
	}
	win := s.iface.WindowInfo(ctx)
	s.processItem(p, "", win)
	return nil
}

// RunScript runs the named script synchronously and returns its result.
func (s *Service) RunScript(ctx context.Context, name string, args []string) (string, error) {
	return s.scripts.RunByName(ctx, name, args)
}

// RunFolder pops up the menu of the named folder.
func (s *Service) RunFolder(ctx context.Context, name string) error {
	var (
		folders []*model.Folder
		items   []model.Item
		err     error
	)
	s.idx.Read(func() {
		var f *model.Folder
		if f, err = s.idx.FolderByTitle(name); err == nil {
			folders = append(folders, f.Folders...)
			items = append(items, f.Items...)
		}
	})
	if err != nil {
		return err
	}
	s.stateMu.Lock()
	s.lastStack = ""
	s.stateMu.Unlock()
	s.showMenu(name, folders, items)
	return nil
}

// ScriptErrors lists remembered script failures, optionally clearing them.
func (s *Service) ScriptErrors(clear bool) ([]ipc.ScriptErrorInfo, error) {
	list := ipc.ScriptErrorsFrom(s.scripts.Errors())
	if clear {
		if err := s.scripts.ClearErrors(); err != nil {
			return list, err
		}
	}
	return list, nil
}

// Reload re-reads the configuration file, when a loader is wired, and the
// item tree.
func (s *Service) Reload(ctx context.Context) (*ipc.ReloadResponse, error) {
	resp := &ipc.ReloadResponse{}
	if l := s.deps.Loader; l != nil {
		before := s.Config()
		if err := l.Reload(); err != nil {
			return nil, err
		}
		resp.ConfigDiff = config.Diff(before, l.Config())
	}
	folders, items, warnings, err := s.ReloadTree()
	if err != nil {
		return nil, err
	}
	resp.Folders, resp.Items, resp.Warnings = folders, items, warnings
	return resp, nil
}
