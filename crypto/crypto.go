// Package crypto provides the cryptographic primitives of the vault engine.
// Keys are derived with PBKDF2-HMAC-SHA256 and payloads are sealed with
// AES-256-GCM. Derived keys live in memguard locked buffers and must be
// destroyed after use.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

const (
	KeySize   = 32 // AES-256
	SaltSize  = 32
	NonceSize = 12 // GCM standard nonce size
	TagSize   = 16
)

// GenerateRandomBytes generates cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("invalid byte count")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// NewSalt returns a fresh random salt for a new vault.
func NewSalt() ([]byte, error) {
	return GenerateRandomBytes(SaltSize)
}

// NewNonce returns a fresh random nonce. Every seal needs its own.
func NewNonce() ([]byte, error) {
	return GenerateRandomBytes(NonceSize)
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// ConstantTimeCompare reports whether a and b are equal without leaking
// where they differ.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
