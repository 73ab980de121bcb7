// Package cryptoutil implements the passphrase-based locking scheme for
// secret key files: PBKDF2 key derivation plus AES-256-GCM sealing.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// saltSize is the length of the salt in bytes (>= 128 bits).
	saltSize = 16
	// pbkdf2Iter is the PBKDF2 iteration count (recommended ~600k for SHA-256).
	pbkdf2Iter = 600_000
	// pbkdf2KeyLen is the length of the derived key (256 bits for AES-256).
	pbkdf2KeyLen = 32
	// gcmNonceSize is the nonce length for AES-GCM (12 bytes recommended).
	gcmNonceSize = 12
)

var errSealedTooShort = errors.New("sealed blob too short")

// DeriveKey derives a 256-bit sealing key from the given passphrase and salt
// using PBKDF2 with HMAC-SHA-256.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iter, pbkdf2KeyLen, sha256.New)
}

// Seal encrypts plaintext under a key derived from the passphrase.
// Output format: salt || nonce || ciphertext.
func Seal(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key := DeriveKey(passphrase, salt)
	defer Zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := append(salt, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal (salt || nonce || ciphertext) using
// the given passphrase. A wrong passphrase and corrupted input fail the same
// way.
func Open(passphrase, sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+gcmNonceSize {
		return nil, errSealedTooShort
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+gcmNonceSize]
	ciphertext := sealed[saltSize+gcmNonceSize:]

	key := DeriveKey(passphrase, salt)
	defer Zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Zeroize overwrites the contents of the byte slice with zeros.
// Use to clear sensitive buffers immediately after use.
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
