package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrBundleNotFound is returned by a store when no bundle has been persisted
// yet.
var ErrBundleNotFound = errors.New("secret bundle not found")

// Store persists a secret bundle between provisioning runs.
type Store interface {
	// Load retrieves the persisted bundle, or ErrBundleNotFound.
	Load(ctx context.Context) (*Bundle, error)

	// Save persists the bundle.
	Save(ctx context.Context, bundle *Bundle) error

	// Location describes where the store keeps the bundle, for logs and the
	// final report.
	Location() string
}

// StoreFor creates a secret store from a location URI.
//
// Supported schemes:
//   - file:///var/lib/whisker-auth/secrets.json
//   - vault://vault.example.com:8200/secret/whisker-auth
//
// The vault form uses KV v2 with the first path element as mount path and
// the remainder as the secret path. The token is taken from VAULT_TOKEN.
func StoreFor(locationURI string, log *slog.Logger) (Store, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid secret store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file", "":
		path := u.Path
		if u.Host != "" {
			path = filepath.Join(u.Host, u.Path)
		}
		return NewFileStore(path, log), nil
	case "vault":
		mount, secretPath, err := splitVaultPath(u.Path)
		if err != nil {
			return nil, err
		}
		scheme := "https"
		if u.Query().Get("insecure") == "true" {
			scheme = "http"
		}
		return NewVaultStore(scheme+"://"+u.Host, mount, secretPath, os.Getenv("VAULT_TOKEN"), log)
	default:
		return nil, fmt.Errorf("unsupported secret store scheme: %s", u.Scheme)
	}
}

func splitVaultPath(p string) (mount, secretPath string, err error) {
	parts := strings.SplitN(strings.Trim(p, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("vault URI path must be /<mount>/<secret path>, got %q", p)
	}
	return parts[0], parts[1], nil
}

// Ensure loads the bundle from the store, generating and persisting a fresh
// one only when none exists. The returned bool is true when a new bundle was
// created.
func Ensure(ctx context.Context, store Store, log *slog.Logger) (*Bundle, bool, error) {
	bundle, err := store.Load(ctx)
	switch {
	case err == nil:
		if err := bundle.Validate(); err != nil {
			return nil, false, fmt.Errorf("persisted bundle at %s is invalid: %w", store.Location(), err)
		}
		log.Info("Reusing persisted secret bundle", "location", store.Location())
		return bundle, false, nil
	case errors.Is(err, ErrBundleNotFound):
		bundle, err := GenerateBundle()
		if err != nil {
			return nil, false, err
		}
		if err := store.Save(ctx, bundle); err != nil {
			return nil, false, fmt.Errorf("could not persist secret bundle: %w", err)
		}
		log.Info("Generated new secret bundle", "location", store.Location())
		return bundle, true, nil
	default:
		return nil, false, fmt.Errorf("could not load secret bundle: %w", err)
	}
}

// FileStore keeps the bundle as a mode-0600 JSON file on the local disk.
type FileStore struct {
	path string
	log  *slog.Logger
}

// NewFileStore creates a file-backed secret store at the given path.
func NewFileStore(path string, log *slog.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

func (s *FileStore) Load(ctx context.Context) (*Bundle, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("could not read secret file: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("could not parse secret file: %w", err)
	}
	return &bundle, nil
}

func (s *FileStore) Save(ctx context.Context, bundle *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("could not create secret directory: %w", err)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a half-written bundle.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("could not write secret file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not move secret file in place: %w", err)
	}

	s.log.Debug("Persisted secret bundle", "path", s.path)
	return nil
}

func (s *FileStore) Location() string {
	return "file://" + s.path
}
