package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/uoar/pass-manager/crypto"
	"github.com/uoar/pass-manager/vault"
)

// recordFlags are the editable record fields shared by add and edit.
type recordFlags struct {
	title    string
	username string
	url      string
	notes    string
	category string
	generate bool
	length   int
}

func (f *recordFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.username, "username", "u", "", "account user name")
	fs.StringVar(&f.url, "url", "", "site address")
	fs.StringVar(&f.notes, "notes", "", "free-form notes")
	fs.StringVarP(&f.category, "category", "c", "", "category (default \"default\")")
	fs.BoolVarP(&f.generate, "generate", "g", false, "generate a random secret instead of prompting")
	fs.IntVar(&f.length, "length", crypto.DefaultPasswordOptions().Length, "length of a generated secret")
}

// readRecordSecret returns a generated or prompted secret. The caller wipes it.
func (a *app) readRecordSecret(f *recordFlags) ([]byte, error) {
	if f.generate {
		opts := crypto.DefaultPasswordOptions()
		opts.Length = f.length
		return crypto.GeneratePassword(opts)
	}
	s, err := a.prompt.secret("Secret: ")
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, errors.New("secret must not be empty")
	}
	return s, nil
}

func (a *app) addCmd() *cobra.Command {
	var f recordFlags

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a credential",
		Example: `  pass-manager add "Work mail" -u me@corp.example --url https://mail.corp.example
  pass-manager add bank -c finance --generate --length 24`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}

			secret, err := a.readRecordSecret(&f)
			if err != nil {
				return err
			}
			defer crypto.Wipe(secret)

			r, err := a.session.Add(vault.Record{
				Title:    args[0],
				Username: f.username,
				Secret:   secret,
				URL:      f.url,
				Notes:    f.notes,
				Category: f.category,
			})
			if err != nil {
				return err
			}
			defer r.Wipe()

			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintln(a.opts.Out, r.ID)
			return nil
		}),
	}
	f.register(cmd.Flags())
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var (
		f         recordFlags
		newSecret bool
	)

	cmd := &cobra.Command{
		Use:   "edit <id|title>",
		Short: "Change fields of a credential",
		Long: `Change fields of a credential. Only the flags given are changed; pass
--secret to be prompted for a new secret or --generate to replace it with a
random one.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}
			r, err := a.findRecord(args[0])
			if err != nil {
				return err
			}
			defer r.Wipe()

			flags := cmd.Flags()
			if flags.Changed("title") {
				r.Title = f.title
			}
			if flags.Changed("username") {
				r.Username = f.username
			}
			if flags.Changed("url") {
				r.URL = f.url
			}
			if flags.Changed("notes") {
				r.Notes = f.notes
			}
			if flags.Changed("category") {
				r.Category = f.category
			}
			if newSecret || f.generate {
				secret, err := a.readRecordSecret(&f)
				if err != nil {
					return err
				}
				r.Wipe()
				r.Secret = secret
			}

			updated, err := a.session.Update(r.ID, r)
			if err != nil {
				return err
			}
			updated.Wipe()
			return a.save()
		}),
	}
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "new title")
	cmd.Flags().BoolVarP(&newSecret, "secret", "s", false, "prompt for a new secret")
	f.register(cmd.Flags())
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "rm <id|title>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a credential",
		Args:    cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.unlock(); err != nil {
				return err
			}
			r, err := a.findRecord(args[0])
			if err != nil {
				return err
			}
			r.Wipe()

			if !yes {
				ok, err := a.prompt.confirm(fmt.Sprintf("Delete %q?", r.Title))
				if err != nil {
					return err
				}
				if !ok {
					a.printWarning("Nothing deleted")
					return nil
				}
			}
			if err := a.session.Delete(r.ID); err != nil {
				return err
			}
			return a.save()
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
