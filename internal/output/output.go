// Package output renders CLI messages, tables and bug fields.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/buggy/internal/models"
)

// UI writes prefixed messages to Out and ErrOut. Verbose and DryRun gate
// VerboseLog and DryRunMsg.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()

	prefixes = map[string]string{
		"info":    color.New(color.FgHiBlue).Sprint("i"),
		"success": green("✓"),
		"warning": yellow("⚠"),
		"error":   red("✗"),
		"verbose": color.New(color.FgHiBlue).Sprint("  →"),
	}
)

// Cyan highlights a name or identifier.
func Cyan(s string) string { return cyan(s) }

// BugNumber formats a bug number as "#N".
func BugNumber(number string) string { return cyan("#" + number) }

// Status renders an active flag, using offLabel for inactive rows.
func Status(active bool, offLabel string) string {
	if active {
		return green("active")
	}
	return yellow(offLabel)
}

// Timestamp renders t for activity listings.
func Timestamp(t time.Time) string {
	return faint(t.Local().Format("2006-01-02 15:04"))
}

// StateColor returns the state label colored by lifecycle stage.
func StateColor(s models.State) string {
	label := s.Label()
	switch {
	case s == models.StateNew || s == models.StateReopened:
		return green(label)
	case s == models.StateEntrusted:
		return yellow(label)
	case s.IsResolved() || s == models.StateVerified:
		return cyan(label)
	case s == models.StateClosed:
		return red(label)
	}
	return label
}

// PriorityColor returns the priority label colored by urgency.
func PriorityColor(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return red(p.Label())
	case models.PriorityMedium:
		return yellow(p.Label())
	}
	return p.Label()
}

func (u *UI) emit(w io.Writer, kind, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefixes[kind], fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { u.emit(u.Out, "info", format, a) }
func (u *UI) Success(format string, a ...any) { u.emit(u.Out, "success", format, a) }
func (u *UI) Warning(format string, a ...any) { u.emit(u.ErrOut, "warning", format, a) }
func (u *UI) Error(format string, a ...any)   { u.emit(u.ErrOut, "error", format, a) }

// Errors prints each message of a validation failure on its own line.
func (u *UI) Errors(msgs []string) {
	for _, m := range msgs {
		u.Error("%s", m)
	}
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		u.emit(u.Out, "verbose", format, a)
	}
}

// DryRunMsg reports what would have happened. It prints nothing unless
// DryRun is set.
func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table returns a borderless, left-aligned table writing to Out.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders:  tw.BorderNone,
			Settings: tw.Settings{Lines: tw.LinesNone, Separators: tw.SeparatorsNone},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
