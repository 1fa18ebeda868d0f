// Package store persists vault containers crash-safely and keeps a rolling
// set of timestamped backups next to the live file.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	verrors "github.com/uoar/pass-manager/internal/errors"
	logger "github.com/uoar/pass-manager/internal/logging"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	// DefaultRetention is the number of backups kept per vault.
	DefaultRetention = 10
)

// Store reads and writes vault containers. The zero value is not usable;
// construct one with New.
type Store struct {
	retention int
	log       logger.Logger
	now       func() time.Time

	// rename is os.Rename outside of tests.
	rename func(oldpath, newpath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithRetention sets how many backups are kept. Values below 1 are ignored.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.retention = n
		}
	}
}

// WithLogger sets the logger used for backup and cleanup events.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock sets the clock used to timestamp backups.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store with DefaultRetention backups.
func New(opts ...Option) *Store {
	s := &Store{
		retention: DefaultRetention,
		now:       time.Now,
		rename:    os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the backup retention cap.
func (s *Store) Retention() int {
	return s.retention
}

// Write replaces the vault at path with c.
//
// An existing file is first copied into the backups directory; if that copy
// fails nothing else happens. The new container is then written to a temp
// file in the same directory and renamed over path, so a reader sees either
// the old or the new container. Old backups beyond the retention cap are
// pruned only after the rename succeeds.
func (s *Store) Write(path string, c *Container) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return ioFailure("create vault directory", err)
	}
	if _, err := s.CleanupTemp(path); err != nil {
		s.log.Warnf("could not clean stale temp files: %v", err)
	}

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		entry, err := s.backup(path, existing)
		if err != nil {
			return fmt.Errorf("write aborted, backup failed: %w", err)
		}
		s.log.Debugf("backed up %s to %s", filepath.Base(path), entry.Name)
	case errors.Is(err, fs.ErrNotExist):
		// First write, nothing to protect.
	default:
		return ioFailure("read current vault", err)
	}

	if err := s.writeAtomic(path, data); err != nil {
		return err
	}

	if err := s.prune(path); err != nil {
		s.log.Warnf("backup retention not enforced: %v", err)
	}
	return nil
}

// Read loads the container at path.
func (s *Store) Read(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", verrors.ErrNotFound, path)
	}
	if err != nil {
		return nil, ioFailure("read vault", err)
	}
	return UnmarshalContainer(data)
}

// Exists reports whether a file is present at path.
func (s *Store) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, ioFailure("check vault", err)
}

// CleanupTemp removes temp files left behind by an interrupted write to path
// and returns how many were removed.
func (s *Store) CleanupTemp(path string) (int, error) {
	dir := filepath.Dir(path)
	prefix := tempPrefix(path)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, ioFailure("scan vault directory", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, ioFailure("remove stale temp file", err)
		}
		removed++
		s.log.Debugf("removed stale temp file %s", name)
	}
	return removed, nil
}

const tempSuffix = ".tmp"

func tempPrefix(path string) string {
	return "." + filepath.Base(path) + "."
}

// writeAtomic writes data to path atomically using temp file + rename.
func (s *Store) writeAtomic(path string, data []byte) error {
	// Create temp file in same directory to ensure same filesystem
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, tempPrefix(path)+"*"+tempSuffix)
	if err != nil {
		return ioFailure("create temp file", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on error
	committed := false
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
		}
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return ioFailure("write temp file", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return ioFailure("sync temp file", err)
	}
	if err := tmpFile.Close(); err != nil {
		return ioFailure("close temp file", err)
	}
	tmpFile = nil

	if err := os.Chmod(tmpPath, FilePermissions); err != nil {
		return ioFailure("set permissions", err)
	}

	if err := s.rename(tmpPath, path); err != nil {
		return ioFailure("rename temp file", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry of a rename. Best effort: not every
// platform supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func ioFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, verrors.ErrIOFailure, err)
}
