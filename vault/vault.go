package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uoar/pass-manager/crypto"
	"github.com/uoar/pass-manager/idle"
	verrors "github.com/uoar/pass-manager/internal/errors"
	logger "github.com/uoar/pass-manager/internal/logging"
	"github.com/uoar/pass-manager/store"
)

// DefaultIdleTimeout is how long an unlocked session may go without activity.
const DefaultIdleTimeout = 5 * time.Minute

// State is the lock state of a Session.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Store defaults to store.New with Logger.
	Store *store.Store

	Logger logger.Logger

	// Now is the clock used for idle accounting and record timestamps.
	Now func() time.Time
}

// Stats summarizes an unlocked vault.
type Stats struct {
	Total      int
	Categories map[string]int
	Backups    int
}

// Session is the unlocked working state of one vault: the derived key, the
// decrypted records and the idle clock. Every state transition happens under
// one mutex, so an idle lock can never interleave with a save.
//
// A process should hold a single Session and pass it to whoever needs vault
// access.
type Session struct {
	mu sync.Mutex

	store       *store.Store
	log         logger.Logger
	now         func() time.Time
	idleTimeout time.Duration
	timer       *idle.Timer

	state        State
	path         string
	key          *crypto.Key
	salt         []byte
	version      uint16
	records      map[string]Record
	lastActivity time.Time
	dirty        bool
}

// NewSession returns a locked Session.
func NewSession(opts Options) *Session {
	s := &Session{
		store:       opts.Store,
		log:         opts.Logger,
		now:         opts.Now,
		idleTimeout: opts.IdleTimeout,
	}
	if s.store == nil {
		s.store = store.New(store.WithLogger(opts.Logger))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultIdleTimeout
	}
	s.timer = idle.New(s.idleTimeout, s.onIdle)
	return s
}

// CreateVault writes a new, empty vault at path. It fails with
// ErrVaultExists if anything is already there. The session stays locked;
// call Unlock to start working with the new vault. passphrase is wiped.
func (s *Session) CreateVault(path string, passphrase []byte) error {
	defer crypto.Wipe(passphrase)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()

	if s.state == Unlocked {
		return verrors.ErrUnlocked
	}

	exists, err := s.store.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", verrors.ErrVaultExists, path)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(passphrase, salt, crypto.DefaultParams())
	crypto.Wipe(passphrase)
	if err != nil {
		return err
	}
	defer key.Destroy()

	c, err := sealRecords(key, crypto.FormatVersion, salt, nil)
	if err != nil {
		return err
	}
	if err := s.store.Write(path, c); err != nil {
		return err
	}

	s.log.Infof("created vault %s", path)
	return nil
}

// Unlock opens the vault at path. A passphrase that does not authenticate
// the vault and a tampered vault are both reported as
// ErrWrongPassphraseOrCorrupted. On any error the session stays locked.
// passphrase is wiped as soon as the key is derived.
func (s *Session) Unlock(path string, passphrase []byte) error {
	defer crypto.Wipe(passphrase)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()

	if s.state == Unlocked {
		return verrors.ErrUnlocked
	}

	if _, err := s.store.CleanupTemp(path); err != nil {
		s.log.Warnf("could not clean stale temp files: %v", err)
	}

	c, err := s.store.Read(path)
	if err != nil {
		return err
	}
	params, err := crypto.ParamsFor(c.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", verrors.ErrMalformedContainer, err)
	}

	key, err := crypto.DeriveKey(passphrase, c.Salt, params)
	crypto.Wipe(passphrase)
	if err != nil {
		return err
	}

	plaintext, err := key.Open(c.Nonce, c.Ciphertext, c.Tag)
	if err != nil {
		key.Destroy()
		if errors.Is(err, verrors.ErrAuthenticationFailed) {
			return verrors.ErrWrongPassphraseOrCorrupted
		}
		return err
	}

	records, err := Decode(plaintext)
	crypto.Wipe(plaintext)
	if err != nil {
		key.Destroy()
		return err
	}

	s.records = make(map[string]Record, len(records))
	for _, r := range records {
		s.records[r.ID] = r
	}
	s.key = key
	s.salt = c.Salt
	s.version = c.FormatVersion
	s.path = path
	s.dirty = false
	s.state = Unlocked
	s.touchLocked()

	s.log.Infof("vault unlocked (%d records)", len(records))
	return nil
}

// Lock wipes the decrypted records and destroys the key. It is a no-op on a
// locked session. Unsaved changes are discarded.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked("explicit")
}

// Close locks the session. Call it on every exit path.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked("close")
	s.timer.Stop()
}

// Touch records user activity and restarts the idle countdown.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()

	if s.state == Unlocked {
		s.touchLocked()
	}
}

// State reports whether the session is unlocked. An idle session is locked
// here even if its timer has not fired yet.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()
	return s.state
}

// Path returns the path of the unlocked vault, or "" when locked.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()
	if s.state != Unlocked {
		return ""
	}
	return s.path
}

// Dirty reports whether there are changes not yet saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()
	return s.state == Unlocked && s.dirty
}

// Save seals the current records under a fresh nonce and writes them. On
// failure the session and its records are left exactly as they were.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}

	c, err := sealRecords(s.key, s.version, s.salt, s.recordList())
	if err != nil {
		return err
	}
	if err := s.store.Write(s.path, c); err != nil {
		return err
	}

	s.dirty = false
	s.touchLocked()
	s.log.Infof("vault saved (%d records)", len(s.records))
	return nil
}

// ChangePassphrase re-encrypts the vault under a key derived from next with a
// new salt. current must match the passphrase the vault was unlocked with.
// The vault is written immediately, which backs up the old container. Both
// passphrases are wiped.
func (s *Session) ChangePassphrase(current, next []byte) error {
	defer crypto.Wipe(current)
	defer crypto.Wipe(next)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}

	params, err := crypto.ParamsFor(s.version)
	if err != nil {
		return err
	}
	check, err := crypto.DeriveKey(current, s.salt, params)
	if err != nil {
		return err
	}
	match := check.Equal(s.key)
	check.Destroy()
	if !match {
		return verrors.ErrPassphraseMismatch
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(next, salt, crypto.DefaultParams())
	if err != nil {
		return err
	}

	c, err := sealRecords(key, crypto.FormatVersion, salt, s.recordList())
	if err != nil {
		key.Destroy()
		return err
	}
	if err := s.store.Write(s.path, c); err != nil {
		key.Destroy()
		return err
	}

	s.key.Destroy()
	s.key = key
	s.salt = salt
	s.version = crypto.FormatVersion
	s.dirty = false
	s.touchLocked()
	s.log.Infof("master passphrase changed")
	return nil
}

// Add stores a copy of r under a new id and returns it. The caller keeps
// ownership of r.Secret.
func (s *Session) Add(r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	r = r.Copy()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Category == "" {
		r.Category = DefaultCategory
	}

	s.records[r.ID] = r
	s.dirty = true
	s.touchLocked()
	return r.Copy(), nil
}

// Update replaces the record with the given id, keeping its id and creation
// time.
func (s *Session) Update(id string, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return Record{}, err
	}

	existing, ok := s.records[id]
	if !ok {
		return Record{}, verrors.ErrRecordNotFound
	}

	r = r.Copy()
	r.ID = id
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now().UTC()
	if r.Category == "" {
		r.Category = DefaultCategory
	}

	existing.Wipe()
	s.records[id] = r
	s.dirty = true
	s.touchLocked()
	return r.Copy(), nil
}

// Delete removes a record by id.
func (s *Session) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}

	r, ok := s.records[id]
	if !ok {
		return verrors.ErrRecordNotFound
	}
	r.Wipe()
	delete(s.records, id)
	s.dirty = true
	s.touchLocked()
	return nil
}

// Get returns a copy of a record by id. The caller owns the copy's secret.
func (s *Session) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return Record{}, err
	}

	r, ok := s.records[id]
	if !ok {
		return Record{}, verrors.ErrRecordNotFound
	}
	s.touchLocked()
	return r.Copy(), nil
}

// List returns copies of all records ordered by title.
func (s *Session) List() ([]Record, error) {
	return s.filter(func(Record) bool { return true })
}

// Search returns copies of the records whose title, username, URL, category
// or notes contain query, ignoring case.
func (s *Session) Search(query string) ([]Record, error) {
	query = strings.ToLower(query)
	return s.filter(func(r Record) bool { return r.matches(query) })
}

// Categories returns the distinct record categories, sorted.
func (s *Session) Categories() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, r := range s.records {
		set[r.Category] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	s.touchLocked()
	return out, nil
}

// Stats returns record counts and the number of retained backups.
func (s *Session) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return Stats{}, err
	}

	st := Stats{Total: len(s.records), Categories: make(map[string]int)}
	for _, r := range s.records {
		st.Categories[r.Category]++
	}
	backups, err := s.store.ListBackups(s.path)
	if err != nil {
		return Stats{}, err
	}
	st.Backups = len(backups)
	s.touchLocked()
	return st, nil
}

// exportRecord is the plaintext JSON shape written by Export.
type exportRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Username  string    `json:"username"`
	Secret    string    `json:"secret"`
	URL       string    `json:"url"`
	Notes     string    `json:"notes"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const maskedSecret = "********"

// Export writes all records as an indented JSON array. Secret values are
// masked unless includeSecrets is set, in which case the output holds them
// in plaintext.
func (s *Session) Export(w io.Writer, includeSecrets bool) error {
	records, err := s.List()
	if err != nil {
		return err
	}
	defer func() {
		for i := range records {
			records[i].Wipe()
		}
	}()

	out := make([]exportRecord, len(records))
	for i, r := range records {
		secret := maskedSecret
		if includeSecrets {
			secret = string(r.Secret)
		}
		out[i] = exportRecord{
			ID:        r.ID,
			Title:     r.Title,
			Username:  r.Username,
			Secret:    secret,
			URL:       r.URL,
			Notes:     r.Notes,
			Category:  r.Category,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ListBackups returns the backups of the vault at path, most recent first.
func (s *Session) ListBackups(path string) ([]store.BackupEntry, error) {
	return s.store.ListBackups(path)
}

// FindBackup looks up a backup of the vault at path by file name.
func (s *Session) FindBackup(path, name string) (store.BackupEntry, error) {
	return s.store.FindBackup(path, name)
}

// Restore puts a backup back in place of the vault at path. The session must
// be locked so the restored data is not overwritten by a later save.
func (s *Session) Restore(path string, entry store.BackupEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIfIdle()

	if s.state == Unlocked {
		return verrors.ErrUnlocked
	}
	return s.store.Restore(path, entry)
}

func (s *Session) filter(keep func(Record) bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := strings.ToLower(out[i].Title), strings.ToLower(out[j].Title)
		if ti != tj {
			return ti < tj
		}
		return out[i].ID < out[j].ID
	})
	s.touchLocked()
	return out, nil
}

// requireUnlocked expires an idle session, then fails if it is locked.
// Caller must hold s.mu.
func (s *Session) requireUnlocked() error {
	s.expireIfIdle()
	if s.state != Unlocked {
		return verrors.ErrLocked
	}
	return nil
}

// recordList returns the records without copying. Caller must hold s.mu.
func (s *Session) recordList() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
	s.timer.Reset()
}

// expireIfIdle locks the session once the idle timeout has elapsed. Caller
// must hold s.mu.
func (s *Session) expireIfIdle() {
	if s.state == Unlocked && s.now().Sub(s.lastActivity) >= s.idleTimeout {
		s.lockLocked("idle timeout")
	}
}

// onIdle runs on the timer goroutine.
func (s *Session) onIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return
	}
	if s.now().Sub(s.lastActivity) >= s.idleTimeout {
		s.lockLocked("idle timeout")
		return
	}
	s.timer.Reset()
}

// lockLocked destroys all secret state. Caller must hold s.mu.
func (s *Session) lockLocked(reason string) {
	if s.state != Unlocked {
		return
	}
	if s.dirty {
		s.log.Warnf("discarding unsaved changes on lock (%s)", reason)
	}

	for id, r := range s.records {
		r.Wipe()
		delete(s.records, id)
	}
	s.records = nil
	s.key.Destroy()
	s.key = nil
	s.salt = nil
	s.path = ""
	s.dirty = false
	s.state = Locked
	s.timer.Stop()

	s.log.Infof("vault locked (%s)", reason)
}

// sealRecords encodes records and seals them under key with a fresh nonce.
// The sealed payload is opened again and compared before it is returned, so
// a container that would not unlock is never handed to the store.
func sealRecords(key *crypto.Key, version uint16, salt []byte, records []Record) (*store.Container, error) {
	if records == nil {
		records = []Record{}
	}
	plaintext, err := Encode(records)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plaintext)

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, tag, err := key.Seal(nonce, plaintext)
	if err != nil {
		return nil, err
	}

	check, err := key.Open(nonce, ciphertext, tag)
	if err != nil {
		return nil, fmt.Errorf("sealed payload failed verification: %w", err)
	}
	same := bytes.Equal(check, plaintext)
	crypto.Wipe(check)
	if !same {
		return nil, errors.New("sealed payload failed verification")
	}

	return &store.Container{
		FormatVersion: version,
		Salt:          bytes.Clone(salt),
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Tag:           tag,
	}, nil
}
