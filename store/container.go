package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/uoar/pass-manager/crypto"
	verrors "github.com/uoar/pass-manager/internal/errors"
)

// magic identifies a vault container file.
var magic = [4]byte{'P', 'M', 'V', '1'}

const (
	versionSize = 2
	lengthSize  = 4
	headerSize  = len(magic) + versionSize + crypto.SaltSize + crypto.NonceSize + lengthSize

	// maxCiphertext guards the length prefix against absurd allocations.
	maxCiphertext = 1 << 30
)

// Container is the on-disk unit of a vault. It is never patched in place: a
// save produces a new Container.
type Container struct {
	FormatVersion uint16
	Salt          []byte
	Nonce         []byte
	Ciphertext    []byte
	Tag           []byte
}

// MarshalBinary encodes c as
//
//	magic | version u16 | salt | nonce | len u32 | ciphertext | tag
//
// with big-endian integers.
func (c *Container) MarshalBinary() ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerSize+len(c.Ciphertext)+crypto.TagSize)
	out = append(out, magic[:]...)
	out = binary.BigEndian.AppendUint16(out, c.FormatVersion)
	out = append(out, c.Salt...)
	out = append(out, c.Nonce...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Ciphertext)))
	out = append(out, c.Ciphertext...)
	out = append(out, c.Tag...)
	return out, nil
}

// UnmarshalContainer decodes a container. Any framing anomaly, including
// trailing bytes, is reported as ErrMalformedContainer.
func UnmarshalContainer(data []byte) (*Container, error) {
	if len(data) < headerSize+crypto.TagSize {
		return nil, fmt.Errorf("%w: truncated (%d bytes)", verrors.ErrMalformedContainer, len(data))
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", verrors.ErrMalformedContainer)
	}

	off := len(magic)
	version := binary.BigEndian.Uint16(data[off:])
	off += versionSize
	if _, err := crypto.ParamsFor(version); err != nil {
		return nil, fmt.Errorf("%w: unsupported format version %d", verrors.ErrMalformedContainer, version)
	}

	salt := data[off : off+crypto.SaltSize]
	off += crypto.SaltSize
	nonce := data[off : off+crypto.NonceSize]
	off += crypto.NonceSize
	ctLen := int(binary.BigEndian.Uint32(data[off:]))
	off += lengthSize

	if ctLen > maxCiphertext || len(data)-off != ctLen+crypto.TagSize {
		return nil, fmt.Errorf("%w: length mismatch", verrors.ErrMalformedContainer)
	}
	ciphertext := data[off : off+ctLen]
	tag := data[off+ctLen:]

	return &Container{
		FormatVersion: version,
		Salt:          bytes.Clone(salt),
		Nonce:         bytes.Clone(nonce),
		Ciphertext:    bytes.Clone(ciphertext),
		Tag:           bytes.Clone(tag),
	}, nil
}

func (c *Container) validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: nil container", verrors.ErrInvalidParameter)
	case len(c.Salt) != crypto.SaltSize:
		return fmt.Errorf("%w: salt length %d", verrors.ErrInvalidParameter, len(c.Salt))
	case len(c.Nonce) != crypto.NonceSize:
		return fmt.Errorf("%w: nonce length %d", verrors.ErrInvalidParameter, len(c.Nonce))
	case len(c.Tag) != crypto.TagSize:
		return fmt.Errorf("%w: tag length %d", verrors.ErrInvalidParameter, len(c.Tag))
	case len(c.Ciphertext) > maxCiphertext:
		return fmt.Errorf("%w: ciphertext too large", verrors.ErrInvalidParameter)
	}
	if _, err := crypto.ParamsFor(c.FormatVersion); err != nil {
		return err
	}
	return nil
}
