package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultStore keeps the bundle in HashiCorp Vault's KV v2 secret engine, for
// hosts that must not carry long-lived credentials on local disk.
type VaultStore struct {
	client     *vault.Client
	mountPath  string
	secretPath string
	log        *slog.Logger
}

// NewVaultStore creates a Vault-backed secret store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - secretPath: path within the mount (e.g. "whisker-auth/host1")
//   - token: Vault token; falls back to the client's default resolution when empty
func NewVaultStore(address, mountPath, secretPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := vault.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultStore{
		client:     client,
		mountPath:  mountPath,
		secretPath: secretPath,
		log:        log,
	}, nil
}

func (s *VaultStore) Load(ctx context.Context) (*Bundle, error) {
	secret, err := s.client.KVv2(s.mountPath).Get(ctx, s.secretPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("could not read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrBundleNotFound
	}

	bundle := &Bundle{
		SecretKey:  stringField(secret.Data, "secret_key"),
		SessionKey: stringField(secret.Data, "session_key"),
		DBPassword: stringField(secret.Data, "db_password"),
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("vault secret at %s is incomplete", s.secretPath)
	}
	return bundle, nil
}

func (s *VaultStore) Save(ctx context.Context, bundle *Bundle) error {
	_, err := s.client.KVv2(s.mountPath).Put(ctx, s.secretPath, map[string]interface{}{
		"secret_key":  bundle.SecretKey,
		"session_key": bundle.SessionKey,
		"db_password": bundle.DBPassword,
	})
	if err != nil {
		return fmt.Errorf("could not write to Vault: %w", err)
	}

	s.log.Debug("Persisted secret bundle to Vault", "path", s.secretPath)
	return nil
}

func (s *VaultStore) Location() string {
	return fmt.Sprintf("vault://%s/%s/%s", s.client.Address(), s.mountPath, s.secretPath)
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}
