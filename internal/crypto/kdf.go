package crypto

import (
	"crypto/rand"
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/errors"

	sscrypt "github.com/elithrar/simple-scrypt"
	"golang.org/x/crypto/scrypt"
)

const saltLength = 64

// Params are the cost parameters used by KDF to stretch a password into a
// key-wrapping key; they are persisted alongside the wrapped master key so
// a repository opened on different hardware reuses the same settings.
type Params struct {
	N int
	R int
	P int
}

// DefaultKDFParams are the parameters used for newly created repositories
// and as the starting point for Calibrate.
var DefaultKDFParams = Params{
	N: sscrypt.DefaultParams.N,
	R: sscrypt.DefaultParams.R,
	P: sscrypt.DefaultParams.P,
}

// Calibrate benchmarks the scrypt parameters that keep key derivation under
// timeout while using about memory bytes of working set.
func Calibrate(timeout time.Duration, memory int) (Params, error) {
	defaultParams := sscrypt.Params{
		N:       DefaultKDFParams.N,
		R:       DefaultKDFParams.R,
		P:       DefaultKDFParams.P,
		DKLen:   sscrypt.DefaultParams.DKLen,
		SaltLen: sscrypt.DefaultParams.SaltLen,
	}

	params, err := sscrypt.Calibrate(timeout, memory, defaultParams)
	if err != nil {
		return DefaultKDFParams, errors.Wrap(err, "scrypt.Calibrate")
	}

	return Params{N: params.N, R: params.R, P: params.P}, nil
}

// KDF derives the encryption/MAC key pair that wraps a repository's master
// key from the user's password, salt and cost parameters p. This is the
// "opaque function" the repository's key-file scheme uses to turn a
// password into a key-wrapping key.
func KDF(p Params, salt []byte, password string) (*Key, error) {
	if len(salt) != saltLength {
		return nil, errors.Errorf("scrypt() called with invalid salt bytes (len %d)", len(salt))
	}

	params := sscrypt.Params{
		N:       p.N,
		R:       p.R,
		P:       p.P,
		DKLen:   sscrypt.DefaultParams.DKLen,
		SaltLen: len(salt),
	}
	if err := params.Check(); err != nil {
		return nil, errors.Wrap(err, "check scrypt params")
	}

	keybytes := macKeySize + aesKeySize
	scryptKeys, err := scrypt.Key([]byte(password), salt, p.N, p.R, p.P, keybytes)
	if err != nil {
		return nil, errors.Wrap(err, "scrypt.Key")
	}
	if len(scryptKeys) != keybytes {
		return nil, errors.Errorf("invalid number of bytes expanded from scrypt: %d", len(scryptKeys))
	}

	derived := &Key{}
	copy(derived.EncryptionKey[:], scryptKeys[:aesKeySize])
	macKeyFromSlice(&derived.MACKey, scryptKeys[aesKeySize:])

	return derived, nil
}

// NewSalt returns fresh random salt bytes for use with KDF.
func NewSalt() []byte {
	buf := make([]byte, saltLength)
	if n, err := rand.Read(buf); n != saltLength || err != nil {
		panic("unable to read enough random bytes for new salt")
	}
	return buf
}
