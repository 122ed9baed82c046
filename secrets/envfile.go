package secrets

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// EnvFileConfig describes the environment file handed to the backend
// process via its systemd unit.
type EnvFileConfig struct {
	Path   string
	DBUser string
	DBName string
	DBHost string
	DBPort int
}

// DatabaseURL builds the PostgreSQL connection URL the backend reads,
// with the credential escaped for URL use.
func DatabaseURL(cfg EnvFileConfig, b *Bundle) string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(cfg.DBUser, b.DBPassword),
		Host:   fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:   "/" + cfg.DBName,
	}
	return u.String()
}

// RenderEnvFile produces the environment file contents from the persisted
// bundle. Rendering is repeatable: the same bundle always produces the same
// file.
func RenderEnvFile(cfg EnvFileConfig, b *Bundle) []byte {
	content := fmt.Sprintf(`# Generated by whisker-provision. Do not edit; re-run provisioning instead.
FLASK_ENV=production
SECRET_KEY=%s
SESSION_SECRET=%s
DATABASE_URL=%s
`, b.SecretKey, b.SessionKey, DatabaseURL(cfg, b))
	return []byte(content)
}

// WriteEnvFile renders and writes the environment file with owner-only
// permissions.
func WriteEnvFile(cfg EnvFileConfig, b *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("could not create directory for env file: %w", err)
	}
	if err := os.WriteFile(cfg.Path, RenderEnvFile(cfg, b), 0o600); err != nil {
		return fmt.Errorf("could not write env file: %w", err)
	}
	return nil
}
