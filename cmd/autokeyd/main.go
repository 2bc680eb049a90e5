// autokeyd - text expansion and hotkey daemon
//
//	autokeyd run            Monitor the keyboard and expand phrases
//	autokeyd init           Write a default configuration and sample phrases
//	autokeyd check          Validate the configuration and the item tree
//	autokeyd import-legacy  Convert a classic autokey.json into a configuration
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"autokeyd/internal/config"
	"autokeyd/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "autokeyd: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "autokeyd",
		Usage:   "Text expansion and hotkey daemon",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration file (toml, json or yaml)",
				EnvVars: []string{"AUTOKEYD_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCmd(),
			initCmd(),
			checkCmd(),
			importLegacyCmd(),
		},
		DefaultCommand: "run",
	}
}

func configPath(c *cli.Context) string {
	if p := c.String("config"); p != "" {
		return p
	}
	if p := config.FindConfigFile(); p != "" {
		return p
	}
	return config.ConfigPath()
}

// newLogger builds the process logger from the logging section.
func newLogger(lc config.LoggingConfig, verbose bool) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logging.LevelDebug
	}
	cfg.Level = level
	cfg.Format = format
	cfg.Output = lc.Output
	cfg.FilePath = lc.FilePath
	cfg.MaxSize = int64(lc.MaxSizeMB)
	cfg.MaxBackups = lc.MaxBackups
	cfg.MaxAge = lc.MaxAgeDays
	cfg.Compress = lc.Compress
	return logging.New(cfg)
}
