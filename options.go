package aegis

import (
	"fmt"

	"southwinds.dev/aegis/internal/mem"
)

// EngineOptions configures runtime protections for a CryptoEngine.
type EngineOptions struct {
	// EnableMemoryLock attempts to lock process memory at construction so
	// key material cannot be swapped to disk. Locking is best-effort:
	// platforms or limits that forbid it degrade to partial protection
	// instead of failing.
	EnableMemoryLock bool
}

// NewCryptoEngineWithOptions builds an engine and applies the requested
// memory protections. The achieved level is readable via MemoryProtection.
func NewCryptoEngineWithOptions(opts EngineOptions) (*CryptoEngine, error) {
	e := NewCryptoEngine()

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			return nil, fmt.Errorf("failed to enable memory lock: %w", err)
		}
		e.protection = level
	}

	return e, nil
}

// MemoryProtection reports the protection level achieved at construction.
func (e *CryptoEngine) MemoryProtection() mem.ProtectionLevel {
	return e.protection
}
