package secrets

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateBundleProducesThreeIndependentSecrets(t *testing.T) {
	bundle, err := GenerateBundle()
	require.NoError(t, err)
	require.NoError(t, bundle.Validate())

	for _, secret := range []string{bundle.SecretKey, bundle.SessionKey, bundle.DBPassword} {
		raw, err := base64.StdEncoding.DecodeString(secret)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
	}

	assert.NotEqual(t, bundle.SecretKey, bundle.SessionKey)
	assert.NotEqual(t, bundle.SessionKey, bundle.DBPassword)
}

func TestEnsureGeneratesOnceAndReuses(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "secrets.json"), testLogger())
	ctx := context.Background()

	first, created, err := Ensure(ctx, store, testLogger())
	require.NoError(t, err)
	assert.True(t, created)

	// A second run must hand back the identical bundle: regenerating would
	// invalidate the database credential distributed on the first run.
	second, created, err := Ensure(ctx, store, testLogger())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestFileStoreModeAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "secrets.json")
	store := NewFileStore(path, testLogger())
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrBundleNotFound)

	bundle, err := GenerateBundle()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, bundle))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, bundle, loaded)
}

func TestStoreForSchemes(t *testing.T) {
	fileStore, err := StoreFor("file:///var/lib/whisker-auth/secrets.json", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "file:///var/lib/whisker-auth/secrets.json", fileStore.Location())

	vaultStore, err := StoreFor("vault://vault.example.com:8200/secret/whisker-auth/host1", testLogger())
	require.NoError(t, err)
	assert.Contains(t, vaultStore.Location(), "secret/whisker-auth/host1")

	_, err = StoreFor("s3://bucket/secrets", testLogger())
	assert.Error(t, err)

	_, err = StoreFor("vault://vault.example.com:8200/onlymount", testLogger())
	assert.Error(t, err)
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("TXA2024!@#")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(hash)
	require.NoError(t, err)
	assert.Len(t, raw, 64, "32-byte salt followed by 32-byte key")

	ok, err := VerifyPassword(hash, "TXA2024!@#")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	first, err := HashPassword("password")
	require.NoError(t, err)
	second, err := HashPassword("password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewLicenseKeyFormat(t *testing.T) {
	key, err := NewLicenseKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)
	assert.Equal(t, strings.ToUpper(key), key)
	assert.Regexp(t, "^[0-9A-F]{64}$", key)
}

func TestEnvFileRendering(t *testing.T) {
	bundle := &Bundle{
		SecretKey:  "sk",
		SessionKey: "sess",
		DBPassword: "p@ss/word+x",
	}
	cfg := EnvFileConfig{
		Path:   filepath.Join(t.TempDir(), ".env"),
		DBUser: "whisker",
		DBName: "whisker_auth",
		DBHost: "127.0.0.1",
		DBPort: 5432,
	}

	content := string(RenderEnvFile(cfg, bundle))
	assert.Contains(t, content, "SECRET_KEY=sk\n")
	assert.Contains(t, content, "SESSION_SECRET=sess\n")
	assert.Contains(t, content, "DATABASE_URL=postgresql://whisker:")
	assert.Contains(t, content, "@127.0.0.1:5432/whisker_auth")
	assert.NotContains(t, content, "p@ss/word+x", "credential must be URL-escaped")

	require.NoError(t, WriteEnvFile(cfg, bundle))
	info, err := os.Stat(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
