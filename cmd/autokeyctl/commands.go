package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"autokeyd/internal/ipc"
)

// colors holds ANSI escapes; all empty when stdout is not a terminal.
type colors struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan string
}

var col = pickColors()

func pickColors() colors {
	if fi, err := os.Stdout.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 || os.Getenv("NO_COLOR") != "" {
		return colors{}
	}
	return colors{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
	}
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError%s: %s\n", col.Bold, col.Red, col.Reset, msg)
}

func printSection(title string) {
	fmt.Printf("\n%s%s%s\n", col.Bold, title, col.Reset)
}

func printField(name, value string) {
	fmt.Printf("  %s%-14s%s %s\n", col.Dim, name, col.Reset, value)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runningLabel(running bool) string {
	if running {
		return col.Bold + col.Green + "RUNNING" + col.Reset
	}
	return col.Bold + col.Yellow + "PAUSED" + col.Reset
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon status and statistics",
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			st, err := client.Status()
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(st)
			}

			printSection("DAEMON")
			printField("Version", col.Cyan+st.Version+col.Reset)
			printField("PID", fmt.Sprint(st.PID))
			printField("Started", humanize.Time(st.StartedAt))
			printField("Uptime", st.Uptime.Round(time.Second).String())
			if st.Monitoring {
				printField("State", runningLabel(st.Running))
			} else {
				printField("State", col.Bold+col.Red+"MONITORING OFF"+col.Reset)
				printField("Reason", st.MonitorError)
			}
			printField("Interface", st.Interface)
			printField("Clients", fmt.Sprint(st.Clients))

			printSection("ITEMS")
			printField("Directory", st.ItemsDir)
			printField("Folders", humanize.Comma(int64(st.Folders)))
			printField("Items", humanize.Comma(int64(st.Items)))
			printField("Abbreviations", humanize.Comma(int64(st.Abbreviations)))
			printField("Hotkeys", humanize.Comma(int64(st.Hotkeys)))

			printSection("ACTIVITY")
			printField("Chars saved", humanize.Comma(st.CharsSaved))
			errs := fmt.Sprint(st.ScriptErrors)
			if st.ScriptErrors > 0 {
				errs = col.Red + errs + col.Reset + col.Dim + " (autokeyctl errors)" + col.Reset
			}
			printField("Script errors", errs)
			fmt.Println()
			return nil
		}),
	}
}

func stateCmd(name, usage string, fn func(*ipc.IPCClient) (bool, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			running, err := fn(client)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(ipc.ServiceStateResponse{Running: running})
			}
			fmt.Printf("autokeyd is %s\n", runningLabel(running))
			return nil
		}),
	}
}

func runPhraseCmd() *cli.Command {
	return &cli.Command{
		Name:      "run-phrase",
		Usage:     "Expand a phrase into the active window",
		ArgsUsage: "<description>",
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: autokeyctl run-phrase <description>", 2)
			}
			return client.RunPhrase(c.Args().First())
		}),
	}
}

func runScriptCmd() *cli.Command {
	return &cli.Command{
		Name:      "run-script",
		Usage:     "Run a script and print its result",
		ArgsUsage: "<description> [args...]",
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			if c.NArg() < 1 {
				return cli.Exit("usage: autokeyctl run-script <description> [args...]", 2)
			}
			result, err := client.RunScript(c.Args().First(), c.Args().Tail())
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(ipc.RunResponse{Result: result})
			}
			if result != "" {
				fmt.Println(result)
			}
			return nil
		}),
	}
}

func runFolderCmd() *cli.Command {
	return &cli.Command{
		Name:      "run-folder",
		Usage:     "Pop up the menu of a folder",
		ArgsUsage: "<title>",
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: autokeyctl run-folder <title>", 2)
			}
			return client.RunFolder(c.Args().First())
		}),
	}
}

func errorsCmd() *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "List recent script errors",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "forget the errors after listing them"},
			&cli.BoolFlag{Name: "traceback", Aliases: []string{"t"}, Usage: "include tracebacks"},
		},
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			list, err := client.Errors(c.Bool("clear"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(ipc.ErrorsResponse{Errors: list})
			}
			if len(list) == 0 {
				fmt.Println("no script errors")
				return nil
			}
			for _, e := range list {
				fmt.Printf("%s%s%s %s(%s)%s\n", col.Cyan, e.Script, col.Reset, col.Dim, humanize.Time(e.FailedAt), col.Reset)
				fmt.Printf("  %s\n", e.Message)
				if c.Bool("traceback") && e.Traceback != "" {
					for _, line := range strings.Split(strings.TrimRight(e.Traceback, "\n"), "\n") {
						fmt.Printf("    %s%s%s\n", col.Dim, line, col.Reset)
					}
				}
			}
			if c.Bool("clear") {
				fmt.Printf("cleared %s\n", humanize.Comma(int64(len(list))))
			}
			return nil
		}),
	}
}

func reloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "reload",
		Usage: "Re-read the configuration and the item tree",
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			resp, err := client.Reload()
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(resp)
			}
			fmt.Printf("loaded %d folders, %d items\n", resp.Folders, resp.Items)
			for _, w := range resp.Warnings {
				fmt.Printf("  %swarning%s %s\n", col.Yellow, col.Reset, w)
			}
			if resp.ConfigDiff != "" {
				printSection("CONFIGURATION CHANGES")
				fmt.Println(resp.ConfigDiff)
			}
			return nil
		}),
	}
}

var eventNames = map[ipc.EventType]string{
	ipc.EventServiceState:  "service-state",
	ipc.EventScriptError:   "script-error",
	ipc.EventConfigChanged: "config-changed",
	ipc.EventTreeReloaded:  "tree-reloaded",
	ipc.EventShutdown:      "shutdown",
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream daemon events until interrupted",
		Action: withClient(func(c *cli.Context, client *ipc.IPCClient) error {
			if err := client.Subscribe(); err != nil {
				return err
			}
			for ev := range client.Events() {
				if c.Bool("json") {
					if err := printJSON(ev); err != nil {
						return err
					}
					continue
				}
				name, ok := eventNames[ev.Type]
				if !ok {
					name = fmt.Sprintf("event-%d", ev.Type)
				}
				data, _ := json.Marshal(ev.Data)
				fmt.Printf("%s %s%s%s %s\n", ev.Timestamp.Format(time.TimeOnly), col.Cyan, name, col.Reset, data)
				if ev.Type == ipc.EventShutdown {
					return nil
				}
			}
			return nil
		}),
	}
}
