package crypto

import (
	"github.com/awnumar/memguard"
)

// Key is an opaque AES-256 key held in locked, guard-paged memory.
// A Key must be destroyed once its session ends.
type Key struct {
	buf *memguard.LockedBuffer
}

// newKey takes ownership of raw: its bytes are moved into a locked buffer and
// raw is wiped.
func newKey(raw []byte) *Key {
	return &Key{buf: memguard.NewBufferFromBytes(raw)}
}

// Seal encrypts plaintext under k with nonce. See the package-level Seal.
func (k *Key) Seal(nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	return Seal(k.bytes(), nonce, plaintext)
}

// Open authenticates and decrypts under k. See the package-level Open.
func (k *Key) Open(nonce, ciphertext, tag []byte) ([]byte, error) {
	return Open(k.bytes(), nonce, ciphertext, tag)
}

// Equal reports in constant time whether k and other hold the same key.
func (k *Key) Equal(other *Key) bool {
	if k.Destroyed() || other.Destroyed() {
		return false
	}
	return ConstantTimeCompare(k.buf.Bytes(), other.buf.Bytes())
}

// Destroy wipes the key and releases its locked memory. It is safe to call
// more than once.
func (k *Key) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
	k.buf = nil
}

// Destroyed reports whether the key material is gone.
func (k *Key) Destroyed() bool {
	return k == nil || k.buf == nil || !k.buf.IsAlive()
}

func (k *Key) bytes() []byte {
	if k.Destroyed() {
		return nil
	}
	return k.buf.Bytes()
}
