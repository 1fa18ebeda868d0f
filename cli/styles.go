package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(10)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)
)

func (a *app) printSuccess(msg string) {
	fmt.Fprintln(a.opts.Err, successStyle.Render("✓")+" "+msg)
}

func (a *app) printWarning(msg string) {
	fmt.Fprintln(a.opts.Err, errorStyle.Render("!")+" "+msg)
}

// field prints one "label  value" line of a record view.
func (a *app) field(label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintln(a.opts.Out, labelStyle.Render(label)+value)
}

// withSpinner shows a spinner on stderr while fn runs, when stderr is a
// terminal.
func (a *app) withSpinner(msg string, fn func() error) error {
	f, ok := a.opts.Err.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f))
	s.Suffix = " " + msg
	s.Start()
	err := fn()
	s.Stop()
	return err
}
