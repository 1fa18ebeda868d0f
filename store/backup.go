package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	verrors "github.com/uoar/pass-manager/internal/errors"
)

const (
	backupDirName   = "backups"
	backupSuffix    = ".bak"
	timestampLayout = "20060102T150405.000000000Z"
)

// BackupEntry is a retained prior container.
type BackupEntry struct {
	Name      string
	Path      string
	CreatedAt time.Time
	Size      int64
}

// BackupDir returns the backups directory that belongs to the vault at path.
func BackupDir(path string) string {
	return filepath.Join(filepath.Dir(path), backupDirName)
}

// ListBackups returns the backups of the vault at path, most recent first.
// Files in the backups directory that do not follow the naming scheme are
// ignored.
func (s *Store) ListBackups(path string) ([]BackupEntry, error) {
	dir := BackupDir(path)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []BackupEntry{}, nil
	}
	if err != nil {
		return nil, ioFailure("read backups directory", err)
	}

	backups := make([]BackupEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, ok := parseBackupName(path, entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupEntry{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: created,
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// FindBackup looks up a backup of the vault at path by file name.
func (s *Store) FindBackup(path, name string) (BackupEntry, error) {
	backups, err := s.ListBackups(path)
	if err != nil {
		return BackupEntry{}, err
	}
	for _, b := range backups {
		if b.Name == name {
			return b, nil
		}
	}
	return BackupEntry{}, fmt.Errorf("%w: %s", verrors.ErrBackupNotFound, name)
}

// Restore puts the container from entry back at path. The backup must parse
// as a container, and the write goes through Write, so the container being
// replaced is itself backed up first.
func (s *Store) Restore(path string, entry BackupEntry) error {
	if filepath.Clean(filepath.Dir(entry.Path)) != filepath.Clean(BackupDir(path)) {
		return fmt.Errorf("%w: backup %s does not belong to %s", verrors.ErrInvalidParameter, entry.Name, path)
	}

	data, err := os.ReadFile(entry.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", verrors.ErrBackupNotFound, entry.Name)
	}
	if err != nil {
		return ioFailure("read backup", err)
	}

	c, err := UnmarshalContainer(data)
	if err != nil {
		return fmt.Errorf("backup %s: %w", entry.Name, err)
	}
	if err := s.Write(path, c); err != nil {
		return err
	}
	s.log.Infof("restored %s from %s", filepath.Base(path), entry.Name)
	return nil
}

// backup copies the raw bytes of the current vault into a new, uniquely
// named backup file. The name always sorts after every existing backup.
func (s *Store) backup(path string, data []byte) (BackupEntry, error) {
	dir := BackupDir(path)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return BackupEntry{}, ioFailure("create backups directory", err)
	}

	existing, err := s.ListBackups(path)
	if err != nil {
		return BackupEntry{}, err
	}

	ts := s.now().UTC()
	if len(existing) > 0 && !ts.After(existing[0].CreatedAt) {
		ts = existing[0].CreatedAt.Add(time.Nanosecond)
	}

	var target string
	for {
		target = filepath.Join(dir, backupName(path, ts))
		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			break
		}
		ts = ts.Add(time.Nanosecond)
	}

	if err := s.writeAtomic(target, data); err != nil {
		return BackupEntry{}, err
	}
	return BackupEntry{
		Name:      filepath.Base(target),
		Path:      target,
		CreatedAt: ts,
		Size:      int64(len(data)),
	}, nil
}

// prune deletes the oldest backups beyond the retention cap.
func (s *Store) prune(path string) error {
	backups, err := s.ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= s.retention {
		return nil
	}
	for _, b := range backups[s.retention:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ioFailure("evict backup", err)
		}
		s.log.Debugf("evicted backup %s", b.Name)
	}
	return nil
}

func backupName(path string, ts time.Time) string {
	return filepath.Base(path) + "-" + ts.UTC().Format(timestampLayout) + backupSuffix
}

func parseBackupName(path, name string) (time.Time, bool) {
	prefix := filepath.Base(path) + "-"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), backupSuffix)
	ts, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
