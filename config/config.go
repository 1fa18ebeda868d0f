// Package config loads user settings from a config file, the environment
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	verrors "github.com/uoar/pass-manager/internal/errors"
)

const (
	AppName   = "pass-manager"
	EnvPrefix = "PASSMGR"

	KeyVaultPath        = "vault_path"
	KeyIdleTimeout      = "idle_timeout"
	KeyClipboardTimeout = "clipboard_timeout"
	KeyBackupRetention  = "backup_retention"

	DefaultIdleTimeout      = 5 * time.Minute
	DefaultClipboardTimeout = 30 * time.Second
	DefaultBackupRetention  = 10

	defaultVaultFile  = "vault.pmv"
	defaultConfigName = "config"
)

type Config struct {
	VaultPath        string
	IdleTimeout      time.Duration
	ClipboardTimeout time.Duration
	BackupRetention  int

	// File is the config file the settings came from, if any.
	File string
}

// Dir returns the per-user application directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// Loader reads settings. The zero value is not usable; use NewLoader.
type Loader struct {
	v   *viper.Viper
	dir string
}

// NewLoader returns a Loader rooted at dir. An empty dir means Dir().
func NewLoader(dir string) (*Loader, error) {
	if dir == "" {
		d, err := Dir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	v := viper.New()
	v.SetDefault(KeyVaultPath, filepath.Join(dir, defaultVaultFile))
	v.SetDefault(KeyIdleTimeout, DefaultIdleTimeout)
	v.SetDefault(KeyClipboardTimeout, DefaultClipboardTimeout)
	v.SetDefault(KeyBackupRetention, DefaultBackupRetention)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, dir: dir}, nil
}

// BindFlag lets a command-line flag override key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("%w: no flag for %s", verrors.ErrInvalidParameter, key)
	}
	if err := l.v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("failed to bind %s flag: %w", flag.Name, err)
	}
	return nil
}

// Load resolves the settings. If file is empty the loader looks for
// config.{json,toml,yaml} in its directory and carries on with defaults when
// there is none; an explicit file must exist.
func (l *Loader) Load(file string) (*Config, error) {
	if file != "" {
		l.v.SetConfigFile(file)
	} else {
		l.v.AddConfigPath(l.dir)
		l.v.SetConfigName(defaultConfigName)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		VaultPath:        l.v.GetString(KeyVaultPath),
		IdleTimeout:      l.v.GetDuration(KeyIdleTimeout),
		ClipboardTimeout: l.v.GetDuration(KeyClipboardTimeout),
		BackupRetention:  l.v.GetInt(KeyBackupRetention),
		File:             l.v.ConfigFileUsed(),
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the current settings to the config file the loader read, or
// to config.yaml in its directory.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.normalize(); err != nil {
		return err
	}

	out := viper.New()
	out.Set(KeyVaultPath, cfg.VaultPath)
	out.Set(KeyIdleTimeout, cfg.IdleTimeout.String())
	out.Set(KeyClipboardTimeout, cfg.ClipboardTimeout.String())
	out.Set(KeyBackupRetention, cfg.BackupRetention)

	file := l.v.ConfigFileUsed()
	if file == "" {
		file = filepath.Join(l.dir, defaultConfigName+".yaml")
	}
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return fmt.Errorf("%w: create config directory: %w", verrors.ErrIOFailure, err)
	}
	if err := out.WriteConfigAs(file); err != nil {
		return fmt.Errorf("%w: write config: %w", verrors.ErrIOFailure, err)
	}
	if err := os.Chmod(file, 0600); err != nil {
		return fmt.Errorf("%w: chmod config: %w", verrors.ErrIOFailure, err)
	}
	cfg.File = file
	return nil
}

func (c *Config) normalize() error {
	if c.VaultPath == "" {
		return fmt.Errorf("%w: %s is empty", verrors.ErrInvalidParameter, KeyVaultPath)
	}
	path, err := expandHome(c.VaultPath)
	if err != nil {
		return err
	}
	c.VaultPath = path

	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: %s must be positive", verrors.ErrInvalidParameter, KeyIdleTimeout)
	}
	if c.ClipboardTimeout <= 0 {
		return fmt.Errorf("%w: %s must be positive", verrors.ErrInvalidParameter, KeyClipboardTimeout)
	}
	if c.BackupRetention < 1 {
		return fmt.Errorf("%w: %s must be at least 1", verrors.ErrInvalidParameter, KeyBackupRetention)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
