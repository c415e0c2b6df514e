// Package cryptox implements the client-side encryption envelope.
//
// CipherDrop is zero-knowledge: all key derivation and encryption happens
// on the client, and the server only ever sees the resulting envelope
// (ciphertext plus public parameters). The server never imports the
// sealing/opening half of this package.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cipherdrop/cipherdrop/internal/common"
)

const (
	// AlgorithmAESGCM is the only algorithm current clients produce.
	AlgorithmAESGCM = "AES-GCM"

	// DefaultIterations is the PBKDF2 iteration count for new envelopes.
	DefaultIterations = 310_000

	keyLen   = 32
	saltLen  = 16
	nonceLen = 12
)

var ErrDecryptFailed = errors.New("decryption failed")

// Envelope is the output of client-side encryption. Every field except
// Ciphertext is public parameter data and safe to store server-side.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Salt       []byte
	Iterations int
	Algorithm  string
}

// DeriveKey stretches a password into an AES-256 key with PBKDF2-SHA256.
func DeriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// Seal encrypts plaintext under a password-derived key and returns a
// complete envelope with fresh random salt and nonce.
func Seal(plaintext, password []byte, iterations int) (*Envelope, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salt := common.GenerateRandByteArray(saltLen)
	nonce := common.GenerateRandByteArray(nonceLen)
	key := DeriveKey(password, salt, iterations)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Ciphertext: aesgcm.Seal(nil, nonce, plaintext, nil),
		IV:         nonce,
		Salt:       salt,
		Iterations: iterations,
		Algorithm:  AlgorithmAESGCM,
	}, nil
}

// Open decrypts an envelope with the given password. A wrong password is
// indistinguishable from corrupted ciphertext and yields ErrDecryptFailed.
func Open(env *Envelope, password []byte) ([]byte, error) {
	if env.Algorithm != AlgorithmAESGCM {
		return nil, errors.New("unsupported algorithm: " + env.Algorithm)
	}

	key := DeriveKey(password, env.Salt, env.Iterations)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
