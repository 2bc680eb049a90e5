// autokeyctl is the control CLI for autokeyd.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"autokeyd/internal/config"
	"autokeyd/internal/ipc"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		printError(err.Error())
		if ipc.IsNotFound(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "autokeyctl",
		Usage:   "Control a running autokeyd",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "autokeyd configuration file", EnvVars: []string{"AUTOKEYD_CONFIG"}},
			&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Usage: "control socket path"},
			&cli.BoolFlag{Name: "json", Usage: "print replies as JSON"},
		},
		Commands: []*cli.Command{
			statusCmd(),
			stateCmd("pause", "Stop expanding until unpaused", (*ipc.IPCClient).Pause),
			stateCmd("unpause", "Resume expanding", (*ipc.IPCClient).Unpause),
			stateCmd("toggle", "Flip between paused and running", (*ipc.IPCClient).Toggle),
			runPhraseCmd(),
			runScriptCmd(),
			runFolderCmd(),
			errorsCmd(),
			reloadCmd(),
			watchCmd(),
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// socketPath resolves the socket from the flag, then the daemon's
// configuration, then the default.
func socketPath(c *cli.Context) string {
	if p := c.String("socket"); p != "" {
		return p
	}
	path := c.String("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		if cfg, err := config.Load(path); err == nil && cfg.IPC.SocketPath != "" {
			return cfg.IPC.SocketPath
		}
	}
	return config.DefaultSocketPath()
}

// connect dials the daemon; the returned client must be closed.
func connect(c *cli.Context) (*ipc.IPCClient, error) {
	cfg := ipc.DefaultClientConfig(socketPath(c))
	cfg.ClientVersion = Version
	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			fmt.Fprintf(os.Stderr, "  %sTip%s: start the daemon with: autokeyd run\n", col.Dim, col.Reset)
		}
		return nil, fmt.Errorf("cannot connect to daemon: %w", err)
	}
	return client, nil
}

// withClient runs fn against a connected client.
func withClient(fn func(c *cli.Context, client *ipc.IPCClient) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		client, err := connect(c)
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(c, client)
	}
}
