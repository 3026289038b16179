// Package persist defines the storage contract behind the security core.
// Everything handed to a Store is already encrypted by the caller; the store
// only deals in opaque payloads, versions and checksums.
package persist

import (
	"fmt"
	"time"
)

// VersionedData is an opaque payload with its version tag. The version is a
// content hash (or backend ETag) used for optimistic concurrency control.
type VersionedData struct {
	Data      []byte
	Version   string
	Timestamp time.Time
}

// Store persists encrypted snapshots and archives. Snapshot names are flat
// identifiers such as "credentials" or "audit/2026-08-29".
type Store interface {
	// SnapshotExists reports whether a payload is stored under name.
	SnapshotExists(name string) (bool, error)

	// SaveSnapshot writes data under name. expectedVersion must match the
	// currently stored version ("" for a first write); a mismatch returns
	// a ConcurrencyError. The new version is returned.
	SaveSnapshot(name string, data []byte, expectedVersion string) (string, error)

	// LoadSnapshot reads the payload stored under name.
	LoadSnapshot(name string) (*VersionedData, error)

	// DeleteSnapshot removes the payload stored under name. Deleting a
	// missing name is an error.
	DeleteSnapshot(name string) error

	// ListSnapshots returns the stored names.
	ListSnapshots() ([]string, error)

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close releases backend resources.
	Close() error

	// Type identifies the backend ("filesystem", "s3").
	Type() string
}

// StoreType selects a backend in configuration.
type StoreType string

const (
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeS3         StoreType = "s3"
)

// ConcurrencyError reports a version conflict on SaveSnapshot.
type ConcurrencyError struct {
	Name            string
	ExpectedVersion string
	ActualVersion   string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %q, found %q",
		e.Name, e.ExpectedVersion, e.ActualVersion)
}
