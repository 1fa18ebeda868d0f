package errors

import "errors"

// Contract errors indicate a programmer mistake at an API boundary.
var (
	// ErrInvalidParameter indicates a bad key, nonce, salt or tag length, or
	// an otherwise unusable argument.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Cryptographic errors.
var (
	// ErrAuthenticationFailed indicates an AEAD open failed. No plaintext is
	// returned alongside it.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNonceReuse indicates a seal was attempted with a (key, nonce) pair
	// already used in this process.
	ErrNonceReuse = errors.New("nonce already used with this key")

	// ErrWrongPassphraseOrCorrupted is reported by unlock when the vault does
	// not authenticate. The two causes cannot be told apart.
	ErrWrongPassphraseOrCorrupted = errors.New("wrong passphrase or corrupted vault")

	// ErrPassphraseMismatch indicates the current passphrase given to a
	// passphrase change does not match the unlocked vault.
	ErrPassphraseMismatch = errors.New("current passphrase does not match")
)

// Format errors indicate structural corruption, distinct from authentication
// failure. Restoring from a backup is the usual remedy.
var (
	// ErrMalformedContainer indicates the on-disk container framing is invalid.
	ErrMalformedContainer = errors.New("malformed vault container")

	// ErrMalformedPayload indicates the decrypted record payload is invalid.
	ErrMalformedPayload = errors.New("malformed vault payload")
)

// Storage errors.
var (
	// ErrNotFound indicates no vault exists at the given path.
	ErrNotFound = errors.New("vault not found")

	// ErrVaultExists indicates a vault already exists where one was to be created.
	ErrVaultExists = errors.New("vault already exists")

	// ErrIOFailure indicates a filesystem error during read, write or backup.
	ErrIOFailure = errors.New("i/o failure")

	// ErrBackupNotFound indicates the requested backup entry does not exist.
	ErrBackupNotFound = errors.New("backup not found")
)

// Session errors.
var (
	// ErrLocked indicates the operation needs an unlocked session.
	ErrLocked = errors.New("vault is locked")

	// ErrUnlocked indicates the operation needs a locked session.
	ErrUnlocked = errors.New("vault is unlocked")

	// ErrRecordNotFound indicates no record has the given id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrTitleRequired indicates a record without a title.
	ErrTitleRequired = errors.New("title is required")
)
