// Package cryptox wraps the key derivation and authenticated encryption
// primitives used by archives.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	KeySize   = 32
	SaltSize  = 16
	NonceSize = 12

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DeriveMasterKey stretches a password into a 256-bit key with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}

// NewNonce returns NonceSize random bytes.
func NewNonce() []byte {
	return common.GenerateRandByteArray(NonceSize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", common.ErrCrypto, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", common.ErrCrypto, err)
	}
	return aesgcm, nil
}

// Seal encrypts plaintext with AES-256-GCM. aad is authenticated but not
// encrypted; the same aad must be passed to Open.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", common.ErrCrypto, NonceSize)
	}
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open reverses Seal. An authentication failure is reported as
// common.ErrInvalidPassword since the key is derived from one.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", common.ErrCrypto, NonceSize)
	}
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, common.ErrInvalidPassword
	}
	return plaintext, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
