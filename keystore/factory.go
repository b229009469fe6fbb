package keystore

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/voltaic/blockcryptd/interfaces"
)

// BackendFactory creates key-storage backends from URI strings.
type BackendFactory struct {
	log *slog.Logger
}

// NewBackendFactory creates a new factory instance.
func NewBackendFactory(log *slog.Logger) *BackendFactory {
	return &BackendFactory{log: log}
}

// KeyStorageFor creates a key-storage backend from a location URI.
//
// Supported schemes:
//   - file:// - Local filesystem storage; key paths are supplied per call
//   - vault://host[:port]/mount - HashiCorp Vault KV v2; the token is taken
//     from the VAULT_TOKEN environment variable
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *BackendFactory) KeyStorageFor(locationURI string) (interfaces.KeyStorage, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid key storage URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file", "":
		return NewFileBackend(f.log), nil
	case "vault":
		scheme := "https"
		if u.Query().Get("insecure") == "true" {
			scheme = "http"
		}
		address := fmt.Sprintf("%s://%s", scheme, u.Host)
		mountPath := strings.Trim(u.Path, "/")
		if mountPath == "" {
			mountPath = "secret"
		}
		return NewVaultBackend(address, os.Getenv("VAULT_TOKEN"), mountPath, f.log)
	default:
		return nil, fmt.Errorf("unsupported key storage scheme: %s", u.Scheme)
	}
}
