// Package secrets owns credential material for the Whisker Auth deployment:
// the application's three independent secrets, password hashing, and license
// key generation.
//
// Secret provisioning is deliberately separated from configuration
// templating. A bundle is generated once, persisted in a store, and reused
// by every later provisioning run, so reconfiguring a live host never
// invalidates the database credential it distributed earlier.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// secretBytes is the entropy per secret before base64 encoding.
const secretBytes = 32

// Bundle holds the three independently generated application secrets.
type Bundle struct {
	// SecretKey is the application's encryption/signing key.
	SecretKey string `json:"secret_key"`

	// SessionKey signs session cookies.
	SessionKey string `json:"session_key"`

	// DBPassword is the PostgreSQL role credential.
	DBPassword string `json:"db_password"`
}

// GenerateBundle creates a bundle of three fresh secrets, each 32 random
// bytes base64-encoded.
func GenerateBundle() (*Bundle, error) {
	secretKey, err := randomSecret()
	if err != nil {
		return nil, err
	}
	sessionKey, err := randomSecret()
	if err != nil {
		return nil, err
	}
	dbPassword, err := randomSecret()
	if err != nil {
		return nil, err
	}
	return &Bundle{
		SecretKey:  secretKey,
		SessionKey: sessionKey,
		DBPassword: dbPassword,
	}, nil
}

// Validate reports whether all three secrets are present.
func (b *Bundle) Validate() error {
	if b.SecretKey == "" || b.SessionKey == "" || b.DBPassword == "" {
		return fmt.Errorf("secret bundle is incomplete")
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not read entropy: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
