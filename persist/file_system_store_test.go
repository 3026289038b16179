package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileSystemStore {
	t.Helper()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFileSystemStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SaveSnapshot("credentials", []byte("encrypted-payload"), "")
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	exists, err := store.SnapshotExists("credentials")
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := store.LoadSnapshot("credentials")
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted-payload"), loaded.Data)
	assert.Equal(t, version, loaded.Version)
	assert.False(t, loaded.Timestamp.IsZero())
}

func TestFileSystemStoreOptimisticConcurrency(t *testing.T) {
	store := newTestStore(t)

	v1, err := store.SaveSnapshot("credentials", []byte("first"), "")
	require.NoError(t, err)

	// A save with the current version succeeds.
	v2, err := store.SaveSnapshot("credentials", []byte("second"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	// A save with a stale version fails with a ConcurrencyError.
	_, err = store.SaveSnapshot("credentials", []byte("third"), v1)
	require.Error(t, err)
	var conflict ConcurrencyError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "credentials", conflict.Name)
	assert.Equal(t, v2, conflict.ActualVersion)

	// A first-write claim on an existing snapshot also fails.
	_, err = store.SaveSnapshot("credentials", []byte("fourth"), "")
	assert.True(t, errors.As(err, &conflict))
}

func TestFileSystemStoreDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SaveSnapshot("doomed", []byte("x"), "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteSnapshot("doomed"))

	exists, err := store.SnapshotExists("doomed")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is an error.
	assert.Error(t, store.DeleteSnapshot("doomed"))
}

func TestFileSystemStoreList(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"credentials", "audit/2026-08-01", "audit/2026-08-02"} {
		_, err := store.SaveSnapshot(name, []byte("x"), "")
		require.NoError(t, err)
	}

	names, err := store.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{"audit/2026-08-01", "audit/2026-08-02", "credentials"}, names)
}

func TestFileSystemStoreRejectsBadNames(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "../escape", "/absolute", "spaces not ok", "semi;colon"} {
		_, err := store.SaveSnapshot(name, []byte("x"), "")
		assert.Error(t, err, "name %q should be rejected", name)
	}
}

func TestFileSystemStoreFilePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSystemStore(dir)
	require.NoError(t, err)

	_, err = store.SaveSnapshot("credentials", []byte("secret"), "")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "credentials"+snapshotExt))
	require.NoError(t, err)
	assert.Equal(t, FilePermissions, info.Mode().Perm())
}

func TestFileSystemStorePing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping())
	assert.Equal(t, "filesystem", store.Type())
	assert.NoError(t, store.Close())
}

func TestNewStoreFactory(t *testing.T) {
	store, err := NewStore(StoreConfig{Type: StoreTypeFileSystem, BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", store.Type())

	_, err = NewStore(StoreConfig{Type: StoreTypeFileSystem})
	assert.Error(t, err, "filesystem store requires a base path")

	_, err = NewStore(StoreConfig{Type: "redis"})
	assert.Error(t, err, "unknown store types are rejected")
}
