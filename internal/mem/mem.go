// Package mem provides best-effort memory locking so key material is not
// swapped to disk. Failure to lock is reported, never fatal: the engine runs
// with reduced protection rather than refusing to start.
package mem

// ProtectionLevel indicates how well process memory could be protected.
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // no protection available
	ProtectionPartial                        // partial measures applied
	ProtectionFull                           // memory locked
)

// Lock attempts to prevent process memory from being swapped out and returns
// the level achieved.
func Lock() (ProtectionLevel, error) {
	return lockPlatform()
}

// Unlock releases locks applied by Lock.
func Unlock() error {
	return unlockPlatform()
}
