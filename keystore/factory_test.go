package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStorageForFile(t *testing.T) {
	factory := NewBackendFactory(testLogger())

	for _, uri := range []string{"file://", "file:///metadata/crypt", ""} {
		backend, err := factory.KeyStorageFor(uri)
		require.NoError(t, err, "uri %q", uri)
		assert.IsType(t, &FileBackend{}, backend, "uri %q", uri)
	}
}

func TestKeyStorageForVault(t *testing.T) {
	factory := NewBackendFactory(testLogger())

	backend, err := factory.KeyStorageFor("vault://vault.example.com:8200/kv")
	require.NoError(t, err)
	assert.IsType(t, &VaultBackend{}, backend)
}

func TestKeyStorageForUnsupportedScheme(t *testing.T) {
	factory := NewBackendFactory(testLogger())

	_, err := factory.KeyStorageFor("s3://bucket/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported key storage scheme")
}
