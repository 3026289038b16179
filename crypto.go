package aegis

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"southwinds.dev/aegis/internal/mem"
)

const (
	// KeySize is the symmetric key size used throughout the engine.
	// ChaCha20-Poly1305 requires 256-bit keys.
	KeySize = chacha20poly1305.KeySize

	// SaltSize is the size of the per-encryption random salt.
	SaltSize = 16

	// TagSize is the Poly1305 authentication tag size.
	TagSize = chacha20poly1305.Overhead

	// DefaultIterations is the PBKDF2 iteration count used when the caller
	// does not specify one.
	DefaultIterations = 100_000

	// MinIterations is the floor below which DeriveKey refuses to operate.
	MinIterations = 10_000

	// MinKeySize is the smallest derived key the engine will produce (128 bits).
	MinKeySize = 16

	// MinSaltSize is the smallest salt DeriveKey accepts.
	MinSaltSize = 8
)

// EncryptedBlob is the only ciphertext container produced by the engine.
// Salt and Nonce are freshly random for every encryption call; they are never
// reused, even when the same plaintext is encrypted twice. The authentication
// tag is kept as a separate field so the serialized layout is stable for
// compliance exports.
type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"iv"`
	Tag        []byte `json:"tag"`
}

// CryptoEngine provides symmetric authenticated encryption, key derivation
// and HMAC signing for the rest of the security core. It is a leaf component
// with no dependencies on the vault, audit log or middleware.
//
// The engine holds an optional process-wide master key in a memguard enclave.
// The master key is absent at start, set exactly once via InitializeMasterKey,
// and can be wiped with ClearSecrets, after which every Encrypt/Decrypt call
// without an explicit key fails with ErrNotInitialized.
//
// ENCRYPTION SCHEME:
//   - Cipher: ChaCha20-Poly1305 (RFC 8439), 256-bit keys, 96-bit nonce
//   - Per-call key: HKDF-SHA256(base key, fresh random salt)
//   - The fresh salt gives a distinct effective key per call, so a nonce
//     collision across calls never pairs with a repeated key
type CryptoEngine struct {
	mu         sync.RWMutex
	masterKey  *memguard.Enclave
	masterSalt []byte
	protection mem.ProtectionLevel
}

// NewCryptoEngine returns an engine with no master key set. Callers that only
// use explicit keys never need to initialize it.
func NewCryptoEngine() *CryptoEngine {
	return &CryptoEngine{}
}

// InitializeMasterKey derives the process-wide master key from password over
// a fresh random salt and stores it in protected memory. It fails if the
// master key has already been set; re-initialization requires ClearSecrets
// first.
func (e *CryptoEngine) InitializeMasterKey(password string) error {
	if password == "" {
		return errors.New("empty master password")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.masterKey != nil {
		return errors.New("master key already initialized")
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate master salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, DefaultIterations, KeySize, sha256.New)

	// NewEnclave copies and wipes the input slice.
	e.masterKey = memguard.NewEnclave(key)
	e.masterSalt = salt

	return nil
}

// Initialized reports whether the process-wide master key is currently set.
func (e *CryptoEngine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.masterKey != nil
}

// ClearSecrets wipes the master key material. After this call all encrypt and
// decrypt operations without an explicit key fail with ErrNotInitialized
// until the engine is initialized again.
func (e *CryptoEngine) ClearSecrets() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.masterKey = nil
	memguard.WipeBytes(e.masterSalt)
	e.masterSalt = nil
}

// DeriveKey derives a key of keyLen bytes from password and salt using
// PBKDF2-HMAC-SHA256. iterations <= 0 selects DefaultIterations. The call is
// rejected with ErrWeakParameters before any cryptographic work when the
// iteration count or requested key size is below the safety floor.
func (e *CryptoEngine) DeriveKey(password, salt []byte, iterations, keyLen int) ([]byte, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d iterations (minimum %d)", ErrWeakParameters, iterations, MinIterations)
	}
	if keyLen < MinKeySize {
		return nil, fmt.Errorf("%w: %d byte key (minimum %d)", ErrWeakParameters, keyLen, MinKeySize)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: %d byte salt (minimum %d)", ErrWeakParameters, len(salt), MinSaltSize)
	}
	if len(password) == 0 {
		return nil, errors.New("empty password")
	}

	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New), nil
}

// DeriveNamedKey deterministically derives a purpose-bound subkey from
// masterKey using HKDF-SHA256. The same (masterKey, purpose, salt) triple
// always yields the same key, and distinct purposes yield independent keys.
// A nil salt is valid and equivalent to the HKDF zero salt.
func (e *CryptoEngine) DeriveNamedKey(masterKey []byte, purpose string, salt []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("empty master key")
	}
	if purpose == "" {
		return nil, errors.New("empty purpose")
	}

	r := hkdf.New(sha256.New, masterKey, salt, []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with ChaCha20-Poly1305 and returns the blob.
// When key is nil the process-wide master key is used; if it has not been
// initialized the call fails with ErrNotInitialized. A fresh random salt and
// nonce are generated on every call.
func (e *CryptoEngine) Encrypt(plaintext, key []byte) (*EncryptedBlob, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}

	if key == nil {
		return e.encryptWithMaster(plaintext)
	}
	return encryptWithKey(plaintext, key)
}

// Decrypt decrypts a blob produced by Encrypt. When key is nil the
// process-wide master key is used. Tag mismatch, a tampered blob or a wrong
// key all yield ErrDecryptionFailed; partial plaintext is never returned.
func (e *CryptoEngine) Decrypt(blob *EncryptedBlob, key []byte) ([]byte, error) {
	if blob == nil {
		return nil, fmt.Errorf("%w: nil blob", ErrDecryptionFailed)
	}

	if key == nil {
		return e.decryptWithMaster(blob)
	}
	return decryptWithKey(blob, key)
}

// HMAC computes an HMAC-SHA256 signature over data.
func (e *CryptoEngine) HMAC(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether signature is a valid HMAC-SHA256 of data under
// key. The comparison is constant-time so timing differences do not leak how
// many signature bytes matched.
func (e *CryptoEngine) VerifyHMAC(data, signature, key []byte) bool {
	expected := e.HMAC(data, key)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(signature, expected) == 1
}

// withMasterKey runs fn with the raw master key bytes and destroys the
// unlocked buffer afterwards. The key bytes must not escape fn.
func (e *CryptoEngine) withMasterKey(fn func(key []byte) error) error {
	e.mu.RLock()
	enclave := e.masterKey
	e.mu.RUnlock()

	if enclave == nil {
		return ErrNotInitialized
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to access master key: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

func (e *CryptoEngine) encryptWithMaster(plaintext []byte) (*EncryptedBlob, error) {
	var blob *EncryptedBlob
	err := e.withMasterKey(func(key []byte) error {
		var inner error
		blob, inner = encryptWithKey(plaintext, key)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (e *CryptoEngine) decryptWithMaster(blob *EncryptedBlob) ([]byte, error) {
	var plaintext []byte
	err := e.withMasterKey(func(key []byte) error {
		var inner error
		plaintext, inner = decryptWithKey(blob, key)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func encryptWithKey(plaintext, key []byte) (*EncryptedBlob, error) {
	// Fresh salt per call; the effective cipher key is bound to it.
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	callKey, err := perCallKey(key, salt)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(callKey)

	aead, err := chacha20poly1305.New(callKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	// Seal appends the tag; keep it as its own field.
	split := len(sealed) - TagSize
	return &EncryptedBlob{
		Ciphertext: sealed[:split],
		Salt:       salt,
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

func decryptWithKey(blob *EncryptedBlob, key []byte) ([]byte, error) {
	if len(blob.Salt) != SaltSize || len(blob.Nonce) != chacha20poly1305.NonceSize || len(blob.Tag) != TagSize {
		return nil, fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}

	callKey, err := perCallKey(key, blob.Salt)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(callKey)

	aead, err := chacha20poly1305.New(callKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+len(blob.Tag))
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.Tag...)

	plaintext, err := aead.Open(nil, blob.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// perCallKey binds the base key to the per-encryption salt via HKDF-SHA256.
func perCallKey(key, salt []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("empty key")
	}

	r := hkdf.New(sha256.New, key, salt, []byte("aegis/blob/v1"))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return out, nil
}
