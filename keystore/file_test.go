package keystore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaic/blockcryptd/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestFileBackendMissingKey: without createIfAbsent an absent key is a
// distinct, recognizable failure
func TestFileBackendMissingKey(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(testLogger())

	_, err := backend.Retrieve(context.Background(), false, filepath.Join(dir, "key"), filepath.Join(dir, "tmp"))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrKeyMissing)
}

// TestFileBackendCreate generates a key, persists it, and reads it back
func TestFileBackendCreate(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key")
	tempPath := filepath.Join(dir, "tmp")
	backend := NewFileBackend(testLogger())

	key, err := backend.Retrieve(context.Background(), true, keyPath, tempPath)
	require.NoError(t, err)
	defer key.Destroy()
	require.Len(t, key.Bytes(), KeySize)

	// The staging file must not survive the rename.
	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err), "staging file removed")

	// Permissions keep the key private to the daemon.
	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A later boot-time retrieve must see the identical key.
	again, err := backend.Retrieve(context.Background(), false, keyPath, tempPath)
	require.NoError(t, err)
	defer again.Destroy()
	assert.Equal(t, key.Bytes(), again.Bytes())
}

func TestFileBackendWrongSize(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(keyPath, make([]byte, 16), 0600))

	backend := NewFileBackend(testLogger())
	_, err := backend.Retrieve(context.Background(), false, keyPath, filepath.Join(dir, "tmp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong size")
}

// TestFileBackendFreshKeysDiffer: two independent creations must never
// produce the same key material
func TestFileBackendFreshKeysDiffer(t *testing.T) {
	backend := NewFileBackend(testLogger())

	dirA := t.TempDir()
	keyA, err := backend.Retrieve(context.Background(), true, filepath.Join(dirA, "key"), filepath.Join(dirA, "tmp"))
	require.NoError(t, err)
	defer keyA.Destroy()

	dirB := t.TempDir()
	keyB, err := backend.Retrieve(context.Background(), true, filepath.Join(dirB, "key"), filepath.Join(dirB, "tmp"))
	require.NoError(t, err)
	defer keyB.Destroy()

	assert.NotEqual(t, keyA.Bytes(), keyB.Bytes())
}
