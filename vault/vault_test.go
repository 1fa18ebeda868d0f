package vault

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uoar/pass-manager/crypto"
	verrors "github.com/uoar/pass-manager/internal/errors"
	logger "github.com/uoar/pass-manager/internal/logging"
	"github.com/uoar/pass-manager/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	opts.Logger = logger.Silent()
	if opts.Store == nil {
		opts.Store = store.New(store.WithLogger(opts.Logger))
	}
	s := NewSession(opts)
	t.Cleanup(s.Close)
	return s
}

func vaultPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vault.pmv")
}

func pass(s string) []byte { return []byte(s) }

// unlockedSession creates a vault protected by "hunter2" and unlocks it.
func unlockedSession(t *testing.T, opts Options) (*Session, string) {
	t.Helper()
	s := newTestSession(t, opts)
	path := vaultPath(t)
	require.NoError(t, s.CreateVault(path, pass("hunter2")))
	require.NoError(t, s.Unlock(path, pass("hunter2")))
	return s, path
}

// rawState reads the lock state without the lazy idle check.
func rawState(s *Session) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func TestCreateThenUnlock(t *testing.T) {
	s := newTestSession(t, Options{})
	path := vaultPath(t)

	require.NoError(t, s.CreateVault(path, pass("hunter2")))
	require.Equal(t, Locked, s.State())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, store.FilePermissions, info.Mode().Perm())

	require.NoError(t, s.Unlock(path, pass("hunter2")))
	require.Equal(t, Unlocked, s.State())
	require.Equal(t, path, s.Path())

	records, err := s.List()
	require.NoError(t, err)
	require.Empty(t, records)

	added, err := s.Add(Record{Title: "mail", Username: "me", Secret: pass("s3cret")})
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)
	require.Equal(t, DefaultCategory, added.Category)
	require.True(t, s.Dirty())
	require.NoError(t, s.Save())
	require.False(t, s.Dirty())

	s.Lock()
	require.Equal(t, Locked, s.State())
	require.Equal(t, "", s.Path())

	require.NoError(t, s.Unlock(path, pass("hunter2")))
	got, err := s.Get(added.ID)
	require.NoError(t, err)
	require.Equal(t, "mail", got.Title)
	require.Equal(t, []byte("s3cret"), got.Secret)
	require.True(t, got.CreatedAt.Equal(added.CreatedAt))
}

func TestCreateVaultRefusesExisting(t *testing.T) {
	s := newTestSession(t, Options{})
	path := vaultPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not a vault"), 0600))

	err := s.CreateVault(path, pass("hunter2"))
	require.ErrorIs(t, err, verrors.ErrVaultExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "not a vault", string(data))
}

func TestCreateVaultWhileUnlocked(t *testing.T) {
	s, _ := unlockedSession(t, Options{})
	err := s.CreateVault(vaultPath(t), pass("other"))
	require.ErrorIs(t, err, verrors.ErrUnlocked)
}

func TestUnlockWrongPassphrase(t *testing.T) {
	s := newTestSession(t, Options{})
	path := vaultPath(t)
	require.NoError(t, s.CreateVault(path, pass("hunter2")))

	err := s.Unlock(path, pass("hunter3"))
	require.ErrorIs(t, err, verrors.ErrWrongPassphraseOrCorrupted)
	require.Equal(t, Locked, s.State())

	_, err = s.List()
	require.ErrorIs(t, err, verrors.ErrLocked)
}

func TestUnlockMissingVault(t *testing.T) {
	s := newTestSession(t, Options{})
	err := s.Unlock(vaultPath(t), pass("hunter2"))
	require.ErrorIs(t, err, verrors.ErrNotFound)
}

func TestUnlockTamperedVault(t *testing.T) {
	s := newTestSession(t, Options{})
	path := vaultPath(t)
	require.NoError(t, s.CreateVault(path, pass("hunter2")))

	original, err := os.ReadFile(path)
	require.NoError(t, err)

	const (
		saltOffset       = 6
		nonceOffset      = 6 + 32
		ciphertextOffset = 6 + 32 + 12 + 4
	)
	tests := []struct {
		name   string
		offset int
		want   error
	}{
		{"salt", saltOffset, verrors.ErrWrongPassphraseOrCorrupted},
		{"nonce", nonceOffset, verrors.ErrWrongPassphraseOrCorrupted},
		{"ciphertext", ciphertextOffset, verrors.ErrWrongPassphraseOrCorrupted},
		{"tag", len(original) - 1, verrors.ErrWrongPassphraseOrCorrupted},
		{"magic", 0, verrors.ErrMalformedContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := bytes.Clone(original)
			tampered[tt.offset] ^= 0x01
			require.NoError(t, os.WriteFile(path, tampered, 0600))

			err := s.Unlock(path, pass("hunter2"))
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, Locked, s.State())
		})
	}
}

func TestUnlockMalformedPayload(t *testing.T) {
	st := store.New(store.WithLogger(logger.Silent()))
	s := newTestSession(t, Options{Store: st})
	path := vaultPath(t)
	require.NoError(t, s.CreateVault(path, pass("hunter2")))

	c, err := st.Read(path)
	require.NoError(t, err)
	params, err := crypto.ParamsFor(c.FormatVersion)
	require.NoError(t, err)
	key, err := crypto.DeriveKey(pass("hunter2"), c.Salt, params)
	require.NoError(t, err)
	defer key.Destroy()

	valid, err := Encode(nil)
	require.NoError(t, err)
	nonce, err := crypto.NewNonce()
	require.NoError(t, err)
	ciphertext, tag, err := key.Seal(nonce, append(valid, "{}"...))
	require.NoError(t, err)
	require.NoError(t, st.Write(path, &store.Container{
		FormatVersion: c.FormatVersion,
		Salt:          c.Salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Tag:           tag,
	}))

	err = s.Unlock(path, pass("hunter2"))
	require.ErrorIs(t, err, verrors.ErrMalformedPayload)
	require.NotErrorIs(t, err, verrors.ErrWrongPassphraseOrCorrupted)
	require.Equal(t, Locked, s.State())
	_, err = s.List()
	require.ErrorIs(t, err, verrors.ErrLocked)
}

func TestAddRejectsInvalidUTF8(t *testing.T) {
	s, _ := unlockedSession(t, Options{})

	_, err := s.Add(Record{Title: "t\xff", Secret: pass("x")})
	require.ErrorIs(t, err, verrors.ErrInvalidParameter)
	_, err = s.Add(Record{Title: "t", Notes: "n\xc3", Secret: pass("x")})
	require.ErrorIs(t, err, verrors.ErrInvalidParameter)
	require.False(t, s.Dirty())

	added, err := s.Add(Record{Title: "t", Secret: pass("x")})
	require.NoError(t, err)
	_, err = s.Update(added.ID, Record{Title: "t", Username: "\xfe", Secret: pass("x")})
	require.ErrorIs(t, err, verrors.ErrInvalidParameter)

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	require.Equal(t, "", got.Username)
}

func TestUnlockWipesPassphrase(t *testing.T) {
	s := newTestSession(t, Options{})
	path := vaultPath(t)
	require.NoError(t, s.CreateVault(path, pass("hunter2")))

	p := pass("hunter2")
	require.NoError(t, s.Unlock(path, p))
	require.Equal(t, make([]byte, len(p)), p)
}

func TestSaveUsesFreshNonce(t *testing.T) {
	st := store.New(store.WithLogger(logger.Silent()))
	s, path := unlockedSession(t, Options{Store: st})

	seen := make(map[string]bool)
	c, err := st.Read(path)
	require.NoError(t, err)
	seen[string(c.Nonce)] = true

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save())
		c, err := st.Read(path)
		require.NoError(t, err)
		require.False(t, seen[string(c.Nonce)], "nonce reused on save %d", i)
		seen[string(c.Nonce)] = true
	}
}

func TestSaveFailureKeepsSession(t *testing.T) {
	s, path := unlockedSession(t, Options{})

	added, err := s.Add(Record{Title: "bank", Secret: pass("pin")})
	require.NoError(t, err)

	// A regular file where the backups directory belongs makes the backup
	// step, and with it the write, fail.
	backups := store.BackupDir(path)
	require.NoError(t, os.WriteFile(backups, nil, 0600))

	require.Error(t, s.Save())
	require.Equal(t, Unlocked, s.State())
	require.True(t, s.Dirty())
	got, err := s.Get(added.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("pin"), got.Secret)

	require.NoError(t, os.Remove(backups))
	require.NoError(t, s.Save())
	require.False(t, s.Dirty())
}

func TestIdleTimeoutLocks(t *testing.T) {
	clock := newFakeClock()
	s, _ := unlockedSession(t, Options{IdleTimeout: time.Minute, Now: clock.Now})

	clock.Advance(59 * time.Second)
	require.Equal(t, Unlocked, s.State())

	clock.Advance(time.Second)
	require.Equal(t, Locked, s.State())

	_, err := s.List()
	require.ErrorIs(t, err, verrors.ErrLocked)
	require.ErrorIs(t, s.Save(), verrors.ErrLocked)
}

func TestActivityDefersIdleLock(t *testing.T) {
	clock := newFakeClock()
	s, _ := unlockedSession(t, Options{IdleTimeout: time.Minute, Now: clock.Now})

	for i := 0; i < 5; i++ {
		clock.Advance(40 * time.Second)
		s.Touch()
	}
	require.Equal(t, Unlocked, s.State())

	clock.Advance(40 * time.Second)
	_, err := s.List()
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.Equal(t, Locked, s.State())
}

func TestIdleTimerLocksInBackground(t *testing.T) {
	s, _ := unlockedSession(t, Options{IdleTimeout: 50 * time.Millisecond})

	require.Eventually(t, func() bool {
		return rawState(s) == Locked
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIdleLockDiscardsUnsavedChanges(t *testing.T) {
	clock := newFakeClock()
	s, path := unlockedSession(t, Options{IdleTimeout: time.Minute, Now: clock.Now})

	_, err := s.Add(Record{Title: "unsaved", Secret: pass("x")})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.Equal(t, Locked, s.State())

	require.NoError(t, s.Unlock(path, pass("hunter2")))
	records, err := s.List()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestLockWipesSecrets(t *testing.T) {
	s, _ := unlockedSession(t, Options{})

	added, err := s.Add(Record{Title: "mail", Secret: pass("s3cret")})
	require.NoError(t, err)

	s.mu.Lock()
	held := s.records[added.ID].Secret
	key := s.key
	s.mu.Unlock()

	s.Lock()

	require.Equal(t, make([]byte, len("s3cret")), held)
	require.True(t, key.Destroyed())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Nil(t, s.records)
	require.Nil(t, s.key)
	require.Nil(t, s.salt)
}

func TestLockIsIdempotent(t *testing.T) {
	s, _ := unlockedSession(t, Options{})
	s.Lock()
	s.Lock()
	require.Equal(t, Locked, s.State())
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s, _ := unlockedSession(t, Options{})

	secret := pass("s3cret")
	added, err := s.Add(Record{Title: "mail", Secret: secret})
	require.NoError(t, err)

	secret[0] = 'X'
	added.Secret[1] = 'Y'

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), got.Secret)
}

func TestUpdateAndDelete(t *testing.T) {
	clock := newFakeClock()
	s, _ := unlockedSession(t, Options{IdleTimeout: 2 * time.Hour, Now: clock.Now})

	added, err := s.Add(Record{Title: "mail", Secret: pass("one")})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	updated, err := s.Update(added.ID, Record{Title: "mail", Secret: pass("two"), Category: "work"})
	require.NoError(t, err)
	require.Equal(t, added.ID, updated.ID)
	require.True(t, updated.CreatedAt.Equal(added.CreatedAt))
	require.True(t, updated.UpdatedAt.After(added.UpdatedAt))
	require.Equal(t, "work", updated.Category)

	_, err = s.Update("missing", Record{Title: "x"})
	require.ErrorIs(t, err, verrors.ErrRecordNotFound)
	_, err = s.Update(added.ID, Record{Title: ""})
	require.ErrorIs(t, err, verrors.ErrTitleRequired)

	require.NoError(t, s.Delete(added.ID))
	require.ErrorIs(t, s.Delete(added.ID), verrors.ErrRecordNotFound)
	_, err = s.Get(added.ID)
	require.ErrorIs(t, err, verrors.ErrRecordNotFound)
}

func TestSearchCategoriesStats(t *testing.T) {
	s, _ := unlockedSession(t, Options{})

	for _, r := range []Record{
		{Title: "Work Mail", Username: "me@corp.example", Category: "work"},
		{Title: "bank", URL: "https://bank.example", Category: "finance"},
		{Title: "alpha", Notes: "mail backup codes"},
	} {
		r.Secret = pass("x")
		_, err := s.Add(r)
		require.NoError(t, err)
	}

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"alpha", "bank", "Work Mail"}, []string{all[0].Title, all[1].Title, all[2].Title})

	found, err := s.Search("MAIL")
	require.NoError(t, err)
	require.Len(t, found, 2)

	cats, err := s.Categories()
	require.NoError(t, err)
	require.Equal(t, []string{DefaultCategory, "finance", "work"}, cats)

	require.NoError(t, s.Save())
	st, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, st.Total)
	require.Equal(t, 1, st.Categories["work"])
	require.Equal(t, 1, st.Backups)
}

func TestExport(t *testing.T) {
	s, _ := unlockedSession(t, Options{})
	_, err := s.Add(Record{Title: "mail", Secret: pass("s3cret")})
	require.NoError(t, err)

	var masked bytes.Buffer
	require.NoError(t, s.Export(&masked, false))
	require.NotContains(t, masked.String(), "s3cret")

	var out []map[string]any
	require.NoError(t, json.Unmarshal(masked.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, maskedSecret, out[0]["secret"])

	var full bytes.Buffer
	require.NoError(t, s.Export(&full, true))
	require.Contains(t, full.String(), "s3cret")
}

func TestChangePassphrase(t *testing.T) {
	s, path := unlockedSession(t, Options{})
	added, err := s.Add(Record{Title: "mail", Secret: pass("s3cret")})
	require.NoError(t, err)

	err = s.ChangePassphrase(pass("wrong"), pass("correct horse"))
	require.ErrorIs(t, err, verrors.ErrPassphraseMismatch)

	require.NoError(t, s.ChangePassphrase(pass("hunter2"), pass("correct horse")))
	require.False(t, s.Dirty())
	s.Lock()

	err = s.Unlock(path, pass("hunter2"))
	require.ErrorIs(t, err, verrors.ErrWrongPassphraseOrCorrupted)

	require.NoError(t, s.Unlock(path, pass("correct horse")))
	got, err := s.Get(added.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), got.Secret)

	backups, err := s.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestRestoreBackup(t *testing.T) {
	s, path := unlockedSession(t, Options{})

	first, err := s.Add(Record{Title: "first", Secret: pass("1")})
	require.NoError(t, err)
	require.NoError(t, s.Save())
	_, err = s.Add(Record{Title: "second", Secret: pass("2")})
	require.NoError(t, err)
	require.NoError(t, s.Save())

	backups, err := s.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 2)

	err = s.Restore(path, backups[0])
	require.ErrorIs(t, err, verrors.ErrUnlocked)

	s.Lock()
	entry, err := s.FindBackup(path, backups[0].Name)
	require.NoError(t, err)
	require.NoError(t, s.Restore(path, entry))

	require.NoError(t, s.Unlock(path, pass("hunter2")))
	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, first.ID, records[0].ID)
}

func TestLockedSessionRejectsOperations(t *testing.T) {
	s := newTestSession(t, Options{})

	require.ErrorIs(t, s.Save(), verrors.ErrLocked)
	_, err := s.Add(Record{Title: "x"})
	require.ErrorIs(t, err, verrors.ErrLocked)
	_, err = s.Get("id")
	require.ErrorIs(t, err, verrors.ErrLocked)
	_, err = s.Search("x")
	require.ErrorIs(t, err, verrors.ErrLocked)
	_, err = s.Categories()
	require.ErrorIs(t, err, verrors.ErrLocked)
	_, err = s.Stats()
	require.ErrorIs(t, err, verrors.ErrLocked)
	require.ErrorIs(t, s.Delete("id"), verrors.ErrLocked)
	require.ErrorIs(t, s.Export(&bytes.Buffer{}, false), verrors.ErrLocked)
	require.ErrorIs(t, s.ChangePassphrase(pass("a"), pass("b")), verrors.ErrLocked)
}

func TestConcurrentSaveAndLock(t *testing.T) {
	s, path := unlockedSession(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := s.Add(Record{Title: "r", Secret: pass("x")}); err != nil {
					assert.ErrorIs(t, err, verrors.ErrLocked)
					return
				}
				if err := s.Save(); err != nil {
					assert.ErrorIs(t, err, verrors.ErrLocked)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		s.Lock()
	}()
	wg.Wait()

	s.Lock()
	require.NoError(t, s.Unlock(path, pass("hunter2")))
	_, err := s.List()
	require.NoError(t, err)
}
