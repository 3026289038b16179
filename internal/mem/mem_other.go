//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockPlatform() (ProtectionLevel, error) {
	// No mlockall equivalent wired on this platform; memguard still wipes
	// buffers, but swapping cannot be prevented.
	return ProtectionPartial, nil
}

func unlockPlatform() error {
	return nil
}
