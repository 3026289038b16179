package persist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3TestConfig reads the connection settings for a MinIO instance from the
// environment. Tests are skipped when AEGIS_S3_TEST_ENDPOINT is unset, so
// the suite passes without external infrastructure.
func s3TestConfig(t *testing.T) S3Config {
	t.Helper()
	endpoint := os.Getenv("AEGIS_S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("AEGIS_S3_TEST_ENDPOINT not set, skipping S3 store tests")
	}
	return S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("AEGIS_S3_TEST_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("AEGIS_S3_TEST_SECRET_KEY"),
		UseSSL:          false,
		Bucket:          "aegis-store-test",
		KeyPrefix:       "test",
	}
}

func TestS3StoreSaveAndLoad(t *testing.T) {
	store, err := NewS3Store(s3TestConfig(t))
	require.NoError(t, err)
	defer store.Close()

	defer store.DeleteSnapshot("credentials")

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
}

func TestS3StoreVersionConflict(t *testing.T) {
	store, err := NewS3Store(s3TestConfig(t))
	require.NoError(t, err)
	defer store.Close()

	defer store.DeleteSnapshot("conflict")

	v1, err := store.SaveSnapshot("conflict", []byte("first"), "")
	require.NoError(t, err)

	_, err = store.SaveSnapshot("conflict", []byte("second"), v1)
	require.NoError(t, err)

	// Stale version loses.
	_, err = store.SaveSnapshot("conflict", []byte("third"), v1)
	assert.Error(t, err)
}

func TestS3StorePing(t *testing.T) {
	store, err := NewS3Store(s3TestConfig(t))
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping())
	assert.Equal(t, "s3", store.Type())
}
