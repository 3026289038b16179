package aegis

import "errors"

// Sentinel errors returned by the crypto engine and the credential vault.
// All of them are expected during normal operation and should be matched
// with errors.Is by callers.
var (
	// ErrNotInitialized is returned when an operation needs the process-wide
	// master key and it has not been set up, or has been cleared.
	ErrNotInitialized = errors.New("master key not initialized")

	// ErrAccessDenied is returned when the caller is not the owner of the
	// credential it is trying to access. Every occurrence is mirrored into
	// the audit log as a failed event.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is returned when a credential (or alert) id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when a credential is past its expiry time.
	// It is distinct from ErrNotFound so callers can prompt rotation
	// instead of re-creation.
	ErrExpired = errors.New("credential expired")

	// ErrDecryptionFailed is returned on authentication tag mismatch or a
	// malformed blob. No partial plaintext is ever returned alongside it.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrWeakParameters is returned when key derivation inputs are below
	// the safety floor. The check happens before any cryptographic work.
	ErrWeakParameters = errors.New("weak key derivation parameters")
)
