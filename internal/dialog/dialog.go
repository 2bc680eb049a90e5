// Package dialog shows modal dialogs for scripts through zenity or kdialog.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"autokeyd/internal/sysexec"
)

// Toolkit selects the helper program.
type Toolkit string

const (
	Zenity  Toolkit = "zenity"
	KDialog Toolkit = "kdialog"
)

// Result is what the user did with a dialog. Code is the helper's exit
// status: 0 for OK, 1 for Cancel or close.
type Result struct {
	Code int
	Text string
}

// OK reports whether the user accepted the dialog.
func (r Result) OK() bool { return r.Code == 0 }

// Dialogs runs one toolkit.
type Dialogs struct {
	Toolkit Toolkit
	Run     sysexec.Runner
}

// New picks kdialog on KDE sessions when it is installed, otherwise zenity.
func New(desktop string) *Dialogs {
	tk := Zenity
	if strings.Contains(strings.ToUpper(desktop), "KDE") && sysexec.Available(string(KDialog)) {
		tk = KDialog
	}
	return &Dialogs{Toolkit: tk, Run: sysexec.Exec}
}

func (d *Dialogs) exec(ctx context.Context, args ...string) (Result, error) {
	out, err := sysexec.OrDefault(d.Run)(ctx, string(d.Toolkit), args...)
	text := strings.TrimSuffix(string(out), "\n")
	if err == nil {
		return Result{Text: text}, nil
	}
	// A cancelled dialog exits with status 1; anything else is a failure.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Code: exitErr.ExitCode(), Text: text}, nil
	}
	return Result{Code: -1}, fmt.Errorf("%s dialog: %w", d.Toolkit, err)
}

// Info shows a message.
func (d *Dialogs) Info(ctx context.Context, title, message string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--msgbox", message)
	}
	return d.exec(ctx, "--info", "--title", title, "--text", message)
}

// Input asks for one line of text.
func (d *Dialogs) Input(ctx context.Context, title, message, initial string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--inputbox", message, initial)
	}
	return d.exec(ctx, "--entry", "--title", title, "--text", message, "--entry-text", initial)
}

// Password asks for hidden text.
func (d *Dialogs) Password(ctx context.Context, title, message string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--password", message)
	}
	return d.exec(ctx, "--password", "--title", title)
}

// ListMenu lets the user pick one of options. With multiple set, Text
// holds the choices separated by newlines.
func (d *Dialogs) ListMenu(ctx context.Context, title, message string, options []string, initial string, multiple bool) (Result, error) {
	if d.Toolkit == KDialog {
		mode := "--radiolist"
		if multiple {
			mode = "--checklist"
		}
		args := []string{"--title", title, mode, message}
		for _, o := range options {
			state := "off"
			if o == initial {
				state = "on"
			}
			args = append(args, o, o, state)
		}
		if multiple {
			args = append(args, "--separate-output")
		}
		return d.exec(ctx, args...)
	}

	args := []string{"--list", "--title", title, "--text", message, "--column", "", "--column", "Option"}
	if multiple {
		args = append(args, "--checklist", "--separator", "\n")
	} else {
		args = append(args, "--radiolist")
	}
	for _, o := range options {
		args = append(args, fmt.Sprint(o == initial), o)
	}
	return d.exec(ctx, args...)
}

// ComboMenu lets the user pick from a drop-down.
func (d *Dialogs) ComboMenu(ctx context.Context, title, message string, options []string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, append([]string{"--title", title, "--combobox", message}, options...)...)
	}
	return d.exec(ctx, "--forms", "--title", title, "--text", message,
		"--add-combo", message, "--combo-values", strings.Join(options, "|"))
}

// ChooseDirectory picks a directory starting at initial.
func (d *Dialogs) ChooseDirectory(ctx context.Context, title, initial string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--getexistingdirectory", initial)
	}
	return d.exec(ctx, "--file-selection", "--directory", "--title", title, "--filename", initial)
}

// OpenFile picks an existing file.
func (d *Dialogs) OpenFile(ctx context.Context, title, initial, filter string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--getopenfilename", initial, filter)
	}
	args := []string{"--file-selection", "--title", title, "--filename", initial}
	if filter != "" {
		args = append(args, "--file-filter", filter)
	}
	return d.exec(ctx, args...)
}

// SaveFile picks a file name to write.
func (d *Dialogs) SaveFile(ctx context.Context, title, initial, filter string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--getsavefilename", initial, filter)
	}
	args := []string{"--file-selection", "--save", "--confirm-overwrite", "--title", title, "--filename", initial}
	if filter != "" {
		args = append(args, "--file-filter", filter)
	}
	return d.exec(ctx, args...)
}

// Notification shows a passive popup.
func (d *Dialogs) Notification(ctx context.Context, title, message string) (Result, error) {
	if d.Toolkit == KDialog {
		return d.exec(ctx, "--title", title, "--passivepopup", message, "5")
	}
	return d.exec(ctx, "--notification", "--text", title+"\n"+message)
}
