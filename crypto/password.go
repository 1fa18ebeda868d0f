package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	verrors "github.com/uoar/pass-manager/internal/errors"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// PasswordOptions selects the length and character classes of a generated
// password.
type PasswordOptions struct {
	Length  int
	Lower   bool
	Upper   bool
	Digits  bool
	Symbols bool
}

// DefaultPasswordOptions returns 16 characters from every class.
func DefaultPasswordOptions() PasswordOptions {
	return PasswordOptions{Length: 16, Lower: true, Upper: true, Digits: true, Symbols: true}
}

// GeneratePassword draws each character uniformly from the selected classes.
// With no class selected it falls back to letters and digits. The result is
// a byte slice so callers can wipe it.
func GeneratePassword(opts PasswordOptions) ([]byte, error) {
	if opts.Length <= 0 {
		return nil, fmt.Errorf("%w: password length %d", verrors.ErrInvalidParameter, opts.Length)
	}

	var alphabet string
	if opts.Lower {
		alphabet += lowerChars
	}
	if opts.Upper {
		alphabet += upperChars
	}
	if opts.Digits {
		alphabet += digitChars
	}
	if opts.Symbols {
		alphabet += symbolChars
	}
	if alphabet == "" {
		alphabet = lowerChars + upperChars + digitChars
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, opts.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			Wipe(out)
			return nil, fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return out, nil
}
