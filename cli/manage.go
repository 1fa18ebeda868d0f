package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/uoar/pass-manager/crypto"
	"github.com/uoar/pass-manager/store"
)

func (a *app) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master passphrase",
		Long: `Re-encrypt the vault under a new master passphrase. The previous file is
kept as a backup, which still opens with the old passphrase.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}
			current, err := a.prompt.secret("Confirm current passphrase: ")
			if err != nil {
				return err
			}
			defer crypto.Wipe(current)
			next, err := a.prompt.newSecret("New master passphrase: ", minPassphraseLength)
			if err != nil {
				return err
			}
			defer crypto.Wipe(next)

			err = a.withSpinner("Re-encrypting vault...", func() error {
				return a.session.ChangePassphrase(current, next)
			})
			if err != nil {
				return err
			}
			a.printSuccess("Master passphrase changed")
			return nil
		}),
	}
}

func (a *app) backupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List vault backups, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			entries, err := a.session.ListBackups(a.cfg.VaultPath)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.opts.Out, helpStyle.Render("No backups yet."))
				return nil
			}
			fmt.Fprintln(a.opts.Out, headerStyle.Render(fmt.Sprintf("%-44s %-20s %s", "NAME", "CREATED", "SIZE")))
			for _, e := range entries {
				fmt.Fprintf(a.opts.Out, "%-44s %-20s %d\n", e.Name, e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Size)
			}
			return nil
		}),
	}
}

func (a *app) restoreCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <backup>",
		Short: "Replace the vault with one of its backups",
		Long: `Replace the vault with one of its backups (see 'pass-manager backups').
The current file is itself backed up first, so a restore can be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			entry, err := a.session.FindBackup(a.cfg.VaultPath, args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := a.prompt.confirm(fmt.Sprintf("Replace %s with %s?", a.cfg.VaultPath, entry.Name))
				if err != nil {
					return err
				}
				if !ok {
					a.printWarning("Nothing restored")
					return nil
				}
			}
			if err := a.session.Restore(a.cfg.VaultPath, entry); err != nil {
				return err
			}
			a.printSuccess("Restored " + entry.Name)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		output  string
		secrets bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all credentials as JSON",
		Long: `Write all credentials as JSON. Secrets are masked unless --secrets is
given; with it the output is plaintext and should be handled with care.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}

			var w io.Writer = a.opts.Out
			if output != "" && output != "-" {
				f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, store.FilePermissions)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := a.session.Export(w, secrets); err != nil {
				return err
			}
			if secrets {
				a.printWarning("Export contains plaintext secrets")
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (must not exist); default stdout")
	cmd.Flags().BoolVar(&secrets, "secrets", false, "include secrets in clear text")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vault statistics",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}
			st, err := a.session.Stats()
			if err != nil {
				return err
			}

			fmt.Fprintln(a.opts.Out, titleStyle.Render("Vault "+a.cfg.VaultPath))
			a.field("Records", fmt.Sprint(st.Total))
			a.field("Backups", fmt.Sprint(st.Backups))
			if info, err := os.Stat(a.cfg.VaultPath); err == nil {
				a.field("Modified", info.ModTime().Format(time.DateTime))
			}

			cats := make([]string, 0, len(st.Categories))
			for c := range st.Categories {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				fmt.Fprintf(a.opts.Out, "  %s %d\n", highlightStyle.Render(c), st.Categories[c])
			}
			return nil
		}),
	}
}

func (a *app) generateCmd() *cobra.Command {
	opts := crypto.DefaultPasswordOptions()
	var noLower, noUpper, noDigits, noSymbols bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a random password",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			opts.Lower = !noLower
			opts.Upper = !noUpper
			opts.Digits = !noDigits
			opts.Symbols = !noSymbols
			pw, err := crypto.GeneratePassword(opts)
			if err != nil {
				return err
			}
			defer crypto.Wipe(pw)
			fmt.Fprintln(a.opts.Out, string(pw))
			return nil
		}),
	}
	cmd.Flags().IntVarP(&opts.Length, "length", "l", opts.Length, "password length")
	cmd.Flags().BoolVar(&noLower, "no-lower", false, "leave out lower-case letters")
	cmd.Flags().BoolVar(&noUpper, "no-upper", false, "leave out upper-case letters")
	cmd.Flags().BoolVar(&noDigits, "no-digits", false, "leave out digits")
	cmd.Flags().BoolVar(&noSymbols, "no-symbols", false, "leave out symbols")
	return cmd
}
