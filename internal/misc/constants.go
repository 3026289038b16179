package misc

const (
	// Argon2id parameters for passphrase-based encryption of exports and
	// archives.
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	// SaltSize for passphrase derivation salts.
	SaltSize = 16

	// FilePermissions for anything the store writes to disk.
	FilePermissions = 0600
)
