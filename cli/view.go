package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/uoar/pass-manager/clipboard"
	"github.com/uoar/pass-manager/vault"
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func (a *app) listCmd() *cobra.Command {
	var search, category string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List credentials",
		Args:    cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}

			var (
				records []vault.Record
				err     error
			)
			if search != "" {
				records, err = a.session.Search(search)
			} else {
				records, err = a.session.List()
			}
			if err != nil {
				return err
			}
			defer func() {
				for i := range records {
					records[i].Wipe()
				}
			}()

			var rows []vault.Record
			for _, r := range records {
				if category == "" || strings.EqualFold(r.Category, category) {
					rows = append(rows, r)
				}
			}
			if len(rows) == 0 {
				fmt.Fprintln(a.opts.Out, helpStyle.Render("No credentials found."))
				return nil
			}
			a.renderTable(rows)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only records whose text fields contain this")
	cmd.Flags().StringVarP(&category, "category", "c", "", "only records in this category")
	return cmd
}

func (a *app) renderTable(rows []vault.Record) {
	widths := []int{shortIDLen, len("TITLE"), len("USERNAME"), len("CATEGORY")}
	for _, r := range rows {
		widths[1] = max(widths[1], lipgloss.Width(r.Title))
		widths[2] = max(widths[2], lipgloss.Width(r.Username))
		widths[3] = max(widths[3], lipgloss.Width(r.Category))
	}

	line := func(style lipgloss.Style, cells ...string) string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = style.Width(widths[i] + 2).Render(c)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, out...), " ")
	}

	fmt.Fprintln(a.opts.Out, line(headerStyle, "ID", "TITLE", "USERNAME", "CATEGORY"))
	for _, r := range rows {
		fmt.Fprintln(a.opts.Out, line(lipgloss.NewStyle(), shortID(r.ID), r.Title, r.Username, r.Category))
	}
}

func (a *app) showCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show <id|title>",
		Short: "Show a credential",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}
			r, err := a.findRecord(args[0])
			if err != nil {
				return err
			}
			defer r.Wipe()

			fmt.Fprintln(a.opts.Out, titleStyle.Render(r.Title))
			a.field("ID", r.ID)
			a.field("Username", r.Username)
			if reveal {
				a.field("Secret", string(r.Secret))
			} else {
				a.field("Secret", strings.Repeat("•", 8)+helpStyle.Render("  (--reveal to show)"))
			}
			a.field("URL", r.URL)
			a.field("Category", r.Category)
			a.field("Notes", r.Notes)
			a.field("Created", r.CreatedAt.Local().Format("2006-01-02 15:04"))
			a.field("Updated", r.UpdatedAt.Local().Format("2006-01-02 15:04"))
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&reveal, "reveal", "r", false, "print the secret in clear text")
	return cmd
}

func (a *app) copyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <id|title>",
		Short: "Copy a secret to the clipboard",
		Long: `Copy a secret to the clipboard. The command waits until the clipboard is
cleared (clipboard_timeout, 30s by default); interrupt it to clear at once.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if !clipboard.Supported() {
				return fmt.Errorf("no system clipboard available")
			}
			if err := a.unlock(); err != nil {
				return err
			}
			r, err := a.findRecord(args[0])
			if err != nil {
				return err
			}
			defer r.Wipe()
			// Nothing else needs the vault while we wait.
			a.session.Lock()

			m := clipboard.NewManager(a.cfg.ClipboardTimeout, a.log)
			defer m.Close()
			if err := m.Copy(r.Secret); err != nil {
				return err
			}
			r.Wipe()
			a.printSuccess(fmt.Sprintf("Copied secret of %q, clearing in %s", r.Title, m.Timeout()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return m.Wait(ctx)
		}),
	}
}
