package cli

import (
	"github.com/spf13/cobra"

	"github.com/uoar/pass-manager/crypto"
)

// minPassphraseLength applies to passphrases chosen at the command line.
const minPassphraseLength = 8

func (a *app) initCmd() *cobra.Command {
	var saveConfig bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Long: `Create a new, empty vault protected by a master passphrase.

The passphrase cannot be recovered. If it is lost, so is the vault.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			pass, err := a.prompt.newSecret("New master passphrase: ", minPassphraseLength)
			if err != nil {
				return err
			}
			defer crypto.Wipe(pass)

			err = a.withSpinner("Deriving key...", func() error {
				return a.session.CreateVault(a.cfg.VaultPath, pass)
			})
			if err != nil {
				return err
			}
			a.printSuccess("Created vault " + highlightStyle.Render(a.cfg.VaultPath))

			if saveConfig {
				if err := a.loader.Save(a.cfg); err != nil {
					return err
				}
				a.printSuccess("Saved settings to " + a.cfg.File)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&saveConfig, "save-config", false, "remember the vault path in the config file")
	return cmd
}
