//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package mem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func lockPlatform() (ProtectionLevel, error) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		// EPERM/ENOSYS means the platform forbids locking, ENOMEM/EAGAIN
		// that RLIMIT_MEMLOCK is too low; keep running with partial
		// protection either way.
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) ||
			errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN) {
			return ProtectionPartial, nil
		}
		return ProtectionNone, fmt.Errorf("failed to lock memory: %w", err)
	}
	return ProtectionFull, nil
}

func unlockPlatform() error {
	if err := unix.Munlockall(); err != nil {
		return fmt.Errorf("failed to unlock memory: %w", err)
	}
	return nil
}
