package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"

	"github.com/voltaic/blockcryptd/interfaces"
)

// KeySize is the raw volume key length in bytes: two 256-bit halves for the
// XTS cipher mode.
const KeySize = 64

// FileBackend stores the volume key on the local filesystem.
type FileBackend struct {
	log *slog.Logger
}

// NewFileBackend creates a file-backed key storage.
func NewFileBackend(log *slog.Logger) *FileBackend {
	return &FileBackend{log: log}
}

// Retrieve reads the key at primaryPath. When the key is absent and
// createIfAbsent is set, a fresh random key is generated, written to
// tempPath, synced, and renamed into place so the primary location is only
// ever complete or absent.
func (b *FileBackend) Retrieve(ctx context.Context, createIfAbsent bool, primaryPath, tempPath string) (*memguard.LockedBuffer, error) {
	data, err := os.ReadFile(primaryPath)
	if err == nil {
		if len(data) != KeySize {
			memguard.WipeBytes(data)
			return nil, fmt.Errorf("key file %s has wrong size %d", primaryPath, len(data))
		}
		b.log.Debug("Loaded volume key", "path", primaryPath)
		// NewBufferFromBytes wipes the source slice.
		return memguard.NewBufferFromBytes(data), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot read key file: %w", err)
	}

	if !createIfAbsent {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyMissing, primaryPath)
	}

	key := memguard.NewBufferRandom(KeySize)
	if err := writeAtomically(tempPath, primaryPath, key.Bytes()); err != nil {
		key.Destroy()
		return nil, fmt.Errorf("cannot persist new key: %w", err)
	}
	b.log.Info("Generated new volume key", "path", primaryPath)
	return key, nil
}

func writeAtomically(tempPath, finalPath string, data []byte) error {
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, finalPath)
}
