package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"

	verrors "github.com/uoar/pass-manager/internal/errors"
)

// Seal encrypts plaintext with AES-256-GCM and returns the ciphertext and the
// authentication tag separately. A (key, nonce) pair is accepted at most once
// per process; a repeat fails with ErrNonceReuse.
func Seal(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	if len(nonce) != NonceSize {
		return nil, nil, fmt.Errorf("%w: nonce length %d, want %d", verrors.ErrInvalidParameter, len(nonce), NonceSize)
	}
	if err := usedNonces.claim(key, nonce); err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize
	return sealed[:split:split], sealed[split:], nil
}

// Open authenticates and decrypts. On any mismatch in key, nonce, ciphertext
// or tag it returns ErrAuthenticationFailed and no plaintext.
func Open(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d, want %d", verrors.ErrInvalidParameter, len(nonce), NonceSize)
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag length %d, want %d", verrors.ErrInvalidParameter, len(tag), TagSize)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, verrors.ErrAuthenticationFailed
	}
	// The pair is now known to have been sealed once already.
	usedNonces.record(key, nonce)
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key length %d, want %d", verrors.ErrInvalidParameter, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// nonceLedger remembers HMAC(key, nonce) for every pair sealed or opened in
// this process. The fingerprint reveals neither key nor nonce.
type nonceLedger struct {
	mu   sync.Mutex
	seen map[[sha256.Size]byte]struct{}
}

var usedNonces = &nonceLedger{seen: make(map[[sha256.Size]byte]struct{})}

func (l *nonceLedger) claim(key, nonce []byte) error {
	fp := fingerprint(key, nonce)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[fp]; ok {
		return verrors.ErrNonceReuse
	}
	l.seen[fp] = struct{}{}
	return nil
}

func (l *nonceLedger) record(key, nonce []byte) {
	fp := fingerprint(key, nonce)

	l.mu.Lock()
	l.seen[fp] = struct{}{}
	l.mu.Unlock()
}

func fingerprint(key, nonce []byte) [sha256.Size]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	var fp [sha256.Size]byte
	copy(fp[:], mac.Sum(nil))
	return fp
}
