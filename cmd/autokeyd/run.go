package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"autokeyd/internal/config"
	"autokeyd/internal/dialog"
	"autokeyd/internal/ipc"
	"autokeyd/internal/logging"
	"autokeyd/internal/model"
	"autokeyd/internal/notify"
	"autokeyd/internal/platform"
	"autokeyd/internal/service"
	"autokeyd/internal/store"
	"autokeyd/internal/sysexec"
	"autokeyd/internal/watcher"
	"autokeyd/internal/window"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Monitor the keyboard and expand phrases",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log at debug level"},
			&cli.BoolFlag{Name: "paused", Usage: "start with monitoring off"},
		},
		Action: func(c *cli.Context) error {
			return runDaemon(configPath(c), c.Bool("verbose"), c.Bool("paused"))
		},
	}
}

// daemon holds everything runDaemon opens so it can be closed in reverse.
type daemon struct {
	log    *logging.Logger
	loader *config.Loader
	store  *store.Store
	iface  *platform.System
	svc    *service.Service
	server *ipc.Server
}

func runDaemon(path string, verbose, paused bool) error {
	loader := config.NewLoader(path, logging.Component("config"))
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if paused {
		cfg.Engine.ServiceRunning = false
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging, verbose)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logging.SetDefault(log)

	d := &daemon{log: log, loader: loader}
	defer d.close()

	if err := d.open(cfg); err != nil {
		log.Error("startup failed", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.svc.Start(ctx); err != nil {
		return err
	}
	if err := loader.Watch(); err != nil {
		log.Warn("configuration will not be reloaded on change", "error", err)
	}
	log.Info("autokeyd started",
		"version", Version,
		"config", loader.Path(),
		"items", cfg.Paths.ItemsDir,
		"running", d.svc.IsRunning())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-hup:
			if _, err := d.svc.Reload(ctx); err != nil {
				log.Error("reload", "error", err)
			}
		case err := <-loader.Errors():
			log.Warn("configuration reload failed", "error", err)
		}
	}
}

func (d *daemon) open(cfg *config.Config) error {
	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	d.store = st

	iface, err := platform.New(platform.Options{
		Display:  displayServer(cfg.Interface.Type),
		ProbeTTL: time.Duration(cfg.Interface.ProbeTTLMs) * time.Millisecond,
		KeyDelay: cfg.SendKeyDelay(),
		Logger:   d.log.WithComponent("platform"),
	})
	if err != nil {
		return fmt.Errorf("desktop interface: %w", err)
	}
	d.iface = iface

	folders, err := model.LoadTree(cfg.Paths.ItemsDir)
	if folders == nil && err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	if err != nil {
		d.log.Warn("item tree loaded with problems", "error", err)
	}

	w, err := watcher.New(cfg.Paths.ItemsDir, 0, d.log.WithComponent("watcher"))
	if err != nil {
		d.log.Warn("item tree will not be reloaded on change", "error", err)
		w = nil
	}

	svc, err := service.New(cfg, service.Deps{
		Interface: iface,
		Index:     model.NewIndex(folders...),
		Store:     st,
		Dialogs:   dialog.New(os.Getenv("XDG_CURRENT_DESKTOP")),
		Notifier:  notify.Default(d.log.WithComponent("notify")),
		Exec:      sysexec.Exec,
		Keymap:    iface.Keymap(),
		Watcher:   w,
		Loader:    d.loader,
		Logger:    d.log,
		Version:   Version,
	})
	if err != nil {
		return err
	}
	d.svc = svc
	d.loader.OnChange(svc.ApplyConfig)

	if !cfg.IPC.Enabled {
		return nil
	}
	perm, err := strconv.ParseUint(cfg.IPC.Permissions, 8, 32)
	if err != nil {
		return fmt.Errorf("ipc permissions %q: %w", cfg.IPC.Permissions, err)
	}
	server := ipc.NewServer(ipc.ServerConfig{
		SocketPath:   cfg.IPC.SocketPath,
		Version:      Version,
		Permissions:  os.FileMode(perm),
		WriteTimeout: time.Duration(cfg.IPC.TimeoutSec) * time.Second,
		Logger:       d.log.WithComponent("ipc"),
	}, ipc.NewDaemonHandler(svc))
	if err := server.Start(); err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	d.server = server
	svc.SetBroadcast(server.Broadcast)
	return nil
}

func (d *daemon) close() {
	var errs []error
	if d.svc != nil {
		errs = append(errs, d.svc.Shutdown())
	}
	if d.server != nil {
		errs = append(errs, d.server.Stop())
	}
	errs = append(errs, d.loader.Close())
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		d.log.Warn("shutdown", "error", err)
	}
	d.log.Close()
}

// displayServer maps the interface type setting; "auto" detects.
func displayServer(t string) window.DisplayServer {
	switch t {
	case "x11":
		return window.X11
	case "wayland":
		return window.Wayland
	}
	return ""
}
