package crypto

import (
	"crypto/sha256"
	"fmt"

	verrors "github.com/uoar/pass-manager/internal/errors"
	"golang.org/x/crypto/pbkdf2"
)

// FormatVersion is the container format written by this build. It selects
// the key derivation parameters, so the work factor can be raised in a later
// format without breaking existing vaults.
const FormatVersion uint16 = 1

const minIterations = 100000

// KDFParams describes a PBKDF2-HMAC-SHA256 configuration.
type KDFParams struct {
	Iterations int
	SaltSize   int
	KeySize    int
}

var kdfByVersion = map[uint16]KDFParams{
	1: {Iterations: 600000, SaltSize: SaltSize, KeySize: KeySize},
}

// ParamsFor returns the key derivation parameters implied by a container
// format version.
func ParamsFor(version uint16) (KDFParams, error) {
	p, ok := kdfByVersion[version]
	if !ok {
		return KDFParams{}, fmt.Errorf("%w: unknown format version %d", verrors.ErrInvalidParameter, version)
	}
	return p, nil
}

// DefaultParams returns the parameters of the current format version.
func DefaultParams() KDFParams {
	return kdfByVersion[FormatVersion]
}

// DeriveKey stretches passphrase with salt into a Key. The result is
// deterministic for a fixed (passphrase, salt, params). The caller still owns
// passphrase and should wipe it once this returns.
func DeriveKey(passphrase, salt []byte, params KDFParams) (*Key, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", verrors.ErrInvalidParameter)
	}
	if len(salt) == 0 || len(salt) != params.SaltSize {
		return nil, fmt.Errorf("%w: salt length %d, want %d", verrors.ErrInvalidParameter, len(salt), params.SaltSize)
	}
	if params.Iterations < minIterations {
		return nil, fmt.Errorf("%w: iteration count too low (minimum %d)", verrors.ErrInvalidParameter, minIterations)
	}
	if params.KeySize != KeySize {
		return nil, fmt.Errorf("%w: key size %d, want %d", verrors.ErrInvalidParameter, params.KeySize, KeySize)
	}

	derived := pbkdf2.Key(passphrase, salt, params.Iterations, params.KeySize, sha256.New)
	return newKey(derived), nil
}
