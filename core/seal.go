package core

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecrypt = errors.New("failed to decrypt secret")

// DeriveKey stretches a passphrase into a secretbox key with argon2id.
func DeriveKey(passphrase string, salt []byte) [32]byte {
	derived := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)

	var key [32]byte
	copy(key[:], derived)
	return key
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func Seal(plain []byte, key *[32]byte) ([]byte, [24]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, nonce, err
	}
	return secretbox.Seal(nil, plain, &nonce, key), nonce, nil
}

func Open(sealed []byte, nonce [24]byte, key *[32]byte) ([]byte, error) {
	plain, ok := secretbox.Open(nil, sealed, &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
