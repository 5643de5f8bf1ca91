package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// VaultComponentStore holds master-key components in HashiCorp Vault using
// the KV v2 secrets engine. The vault half of the platform master key lives
// here, physically separated from the custodian shares held offline.
type VaultComponentStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultComponentStore creates a Vault-backed component store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault authentication token
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "keycore/components")
//   - log: structured logger for operational insights
func NewVaultComponentStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultComponentStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultComponentStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Get retrieves a component by path. Returns ErrComponentNotFound if no
// value is stored there.
func (s *VaultComponentStore) Get(ctx context.Context, path string) ([]byte, error) {
	vaultPath := s.vaultPath(path)

	secret, err := s.client.Logical().ReadWithContext(ctx, vaultPath)
	if err != nil {
		s.log.Error("Failed to read from Vault", slog.String("path", vaultPath), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrComponentNotFound
	}

	// KV v2 wraps the payload in a "data" field.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	encoded, ok := data["component"].(string)
	if !ok {
		return nil, interfaces.ErrComponentNotFound
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode component: %w", err)
	}

	s.log.Debug("Fetched component from Vault", slog.String("path", vaultPath), slog.Int("size", len(value)))
	return value, nil
}

// Put stores a component at path.
func (s *VaultComponentStore) Put(ctx context.Context, path string, value []byte) error {
	vaultPath := s.vaultPath(path)

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"component": base64.StdEncoding.EncodeToString(value),
		},
	}

	if _, err := s.client.Logical().WriteWithContext(ctx, vaultPath, payload); err != nil {
		s.log.Error("Failed to write to Vault", slog.String("path", vaultPath), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.log.Debug("Stored component in Vault", slog.String("path", vaultPath), slog.Int("size", len(value)))
	return nil
}

// LocationURI returns a URI describing this backend for logs and audits.
func (s *VaultComponentStore) LocationURI() string {
	return s.locationURI
}

func (s *VaultComponentStore) vaultPath(path string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, strings.Trim(path, "/"))
}
