// Package crypto holds the low-level AEAD helpers behind the engine and the
// vault's snapshot encryption. The public CryptoEngine in the root package is
// the API the host application uses; this package is plumbing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"southwinds.dev/aegis/internal/misc"
)

// EncryptValue encrypts value with ChaCha20-Poly1305 under key. Output is
// nonce || ciphertext+tag.
func EncryptValue(value, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, value, nil)

	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out[:len(nonce)], nonce)
	copy(out[len(nonce):], ciphertext)
	return out, nil
}

// DecryptValue reverses EncryptValue. Authentication failure is reported as
// an error with no partial output.
func DecryptValue(encrypted, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(encrypted) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("encrypted data too short")
	}

	nonce := encrypted[:aead.NonceSize()]
	ciphertext := encrypted[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}

// EncryptWithPassphrase encrypts data under an Argon2id-derived key. Output
// is salt || nonce || ciphertext+tag. Used for passphrase-protected audit
// archives and exports.
func EncryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, misc.ArgonTime, misc.ArgonMemory, misc.ArgonThreads, misc.ArgonKeyLen)

	encrypted, err := EncryptValue(data, key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(salt)+len(encrypted))
	copy(out[:len(salt)], salt)
	copy(out[len(salt):], encrypted)
	return out, nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase.
func DecryptWithPassphrase(encrypted []byte, passphrase string) ([]byte, error) {
	if len(encrypted) < misc.SaltSize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, errors.New("encrypted data too short")
	}

	salt := encrypted[:misc.SaltSize]
	key := argon2.IDKey([]byte(passphrase), salt, misc.ArgonTime, misc.ArgonMemory, misc.ArgonThreads, misc.ArgonKeyLen)

	return DecryptValue(encrypted[misc.SaltSize:], key)
}

// Checksum returns the hex SHA-256 of data, used to verify stored payloads.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
