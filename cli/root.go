// Package cli is the command-line front end of the vault.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uoar/pass-manager/config"
	verrors "github.com/uoar/pass-manager/internal/errors"
	logger "github.com/uoar/pass-manager/internal/logging"
	"github.com/uoar/pass-manager/store"
	"github.com/uoar/pass-manager/vault"
)

// Options wires the command tree to its environment. Zero fields fall back
// to the process defaults.
type Options struct {
	Version string
	In      io.Reader
	Out     io.Writer
	Err     io.Writer

	// ConfigDir is where settings are looked up and the default vault lives.
	ConfigDir string
}

type app struct {
	opts Options
	log  logger.Logger

	configFile string

	loader  *config.Loader
	cfg     *config.Config
	session *vault.Session
	prompt  *prompter
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	root := NewRootCommand(Options{Version: version})
	if err := root.Execute(); err != nil {
		logger.Logger{}.Errorf("%v", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the full command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	a := &app{
		opts:   opts,
		log:    logger.Logger{Out: opts.Err, Err: opts.Err},
		prompt: newPrompter(opts.In, opts.Err),
	}

	root := &cobra.Command{
		Use:   "pass-manager",
		Short: "A local, encrypted password vault",
		Long: `pass-manager keeps credentials in a single encrypted file unlocked by a
master passphrase. Every change is written atomically and the previous
version is kept as a timestamped backup.`,
		Version:           opts.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(opts.In)
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default <user config dir>/pass-manager/config.yaml)")
	pf.String("vault", "", "path to the vault file")
	pf.BoolVarP(&a.log.Verbose, "verbose", "v", false, "print progress messages")
	pf.BoolVar(&a.log.Debug, "debug", false, "print debug messages")

	root.AddCommand(
		a.initCmd(),
		a.addCmd(),
		a.editCmd(),
		a.listCmd(),
		a.showCmd(),
		a.copyCmd(),
		a.removeCmd(),
		a.passwdCmd(),
		a.backupsCmd(),
		a.restoreCmd(),
		a.exportCmd(),
		a.statsCmd(),
		a.generateCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loader, err := config.NewLoader(a.opts.ConfigDir)
	if err != nil {
		return err
	}
	if err := loader.BindFlag(config.KeyVaultPath, cmd.Root().PersistentFlags().Lookup("vault")); err != nil {
		return err
	}
	cfg, err := loader.Load(a.configFile)
	if err != nil {
		return err
	}
	if cfg.File != "" {
		a.log.Debugf("using config %s", cfg.File)
	}
	a.log.Debugf("using vault %s", cfg.VaultPath)

	a.loader = loader
	a.cfg = cfg
	a.session = vault.NewSession(vault.Options{
		IdleTimeout: cfg.IdleTimeout,
		Store:       store.New(store.WithRetention(cfg.BackupRetention), store.WithLogger(a.log)),
		Logger:      a.log,
	})
	return nil
}

// run wraps a command body so the session is locked however it returns.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer func() {
			if a.session != nil {
				a.session.Close()
			}
		}()
		return fn(cmd, args)
	}
}

func (a *app) unlock() error {
	pass, err := a.prompt.secret("Master passphrase: ")
	if err != nil {
		return err
	}
	err = a.withSpinner("Unlocking vault...", func() error {
		return a.session.Unlock(a.cfg.VaultPath, pass)
	})
	if errors.Is(err, verrors.ErrNotFound) {
		return fmt.Errorf("%w (run 'pass-manager init' first)", err)
	}
	return err
}

func (a *app) save() error {
	if err := a.session.Save(); err != nil {
		return err
	}
	a.printSuccess("Vault saved")
	return nil
}

// findRecord resolves ref as a record id, a unique id prefix, or a unique
// case-insensitive title.
func (a *app) findRecord(ref string) (vault.Record, error) {
	r, err := a.session.Get(ref)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, verrors.ErrRecordNotFound) {
		return vault.Record{}, err
	}

	records, err := a.session.List()
	if err != nil {
		return vault.Record{}, err
	}
	var byID, byTitle []int
	for i, r := range records {
		if strings.HasPrefix(r.ID, ref) {
			byID = append(byID, i)
		}
		if strings.EqualFold(r.Title, ref) {
			byTitle = append(byTitle, i)
		}
	}
	matches := byID
	if len(matches) == 0 {
		matches = byTitle
	}

	var found vault.Record
	if len(matches) == 1 {
		found = records[matches[0]].Copy()
	}
	for i := range records {
		records[i].Wipe()
	}

	switch len(matches) {
	case 0:
		return vault.Record{}, fmt.Errorf("%w: %s", verrors.ErrRecordNotFound, ref)
	case 1:
		return found, nil
	default:
		return vault.Record{}, fmt.Errorf("%w: %q matches %d records, use a longer id", verrors.ErrInvalidParameter, ref, len(matches))
	}
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out, r: bufio.NewReader(in)}
}
