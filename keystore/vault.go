package keystore

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/hashicorp/vault/api"

	"github.com/voltaic/blockcryptd/interfaces"
)

// VaultBackend stores the volume key in HashiCorp Vault using the KV v2
// secret engine. Retrieve's primaryPath selects the key path within the
// mount; tempPath is unused because Vault writes are atomic on their own.
type VaultBackend struct {
	client    *api.Client
	mountPath string
	log       *slog.Logger
}

// NewVaultBackend creates a Vault key storage.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault client token
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - log: Structured logger for operational insights
func NewVaultBackend(address, token, mountPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultBackend{
		client:    client,
		mountPath: strings.TrimSuffix(mountPath, "/"),
		log:       log,
	}, nil
}

// Retrieve fetches the hex-encoded key stored under primaryPath, generating
// and storing a new one when createIfAbsent is set.
func (b *VaultBackend) Retrieve(ctx context.Context, createIfAbsent bool, primaryPath, tempPath string) (*memguard.LockedBuffer, error) {
	secretPath := path.Join(b.mountPath, "data", strings.TrimPrefix(primaryPath, "/"))

	secret, err := b.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("vault read failed: %w", err)
	}

	if secret != nil && secret.Data != nil {
		data, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected vault secret layout at %s", secretPath)
		}
		encoded, ok := data["key"].(string)
		if !ok {
			return nil, fmt.Errorf("vault secret at %s has no key field", secretPath)
		}
		raw, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("vault secret at %s is not valid hex: %w", secretPath, err)
		}
		if len(raw) != KeySize {
			memguard.WipeBytes(raw)
			return nil, fmt.Errorf("vault secret at %s has wrong size %d", secretPath, len(raw))
		}
		b.log.Debug("Loaded volume key from vault", "path", secretPath)
		return memguard.NewBufferFromBytes(raw), nil
	}

	if !createIfAbsent {
		return nil, fmt.Errorf("%w: vault path %s", interfaces.ErrKeyMissing, secretPath)
	}

	key := memguard.NewBufferRandom(KeySize)
	encoded := hex.EncodeToString(key.Bytes())
	_, err = b.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{"key": encoded},
	})
	if err != nil {
		key.Destroy()
		return nil, fmt.Errorf("vault write failed: %w", err)
	}
	b.log.Info("Generated new volume key in vault", "path", secretPath)
	return key, nil
}
