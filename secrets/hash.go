package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Password hashing parameters. These match the values the backend verifies
// against, so seeded accounts remain usable by the application.
const (
	hashSaltBytes  = 32
	hashKeyBytes   = 32
	hashIterations = 100000
)

// HashPassword derives a PBKDF2-HMAC-SHA256 hash of the password with a
// fresh random salt and returns base64(salt || key).
func HashPassword(password string) (string, error) {
	salt := make([]byte, hashSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("could not read entropy: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyBytes, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, key...)), nil
}

// VerifyPassword checks a password against a hash produced by HashPassword.
func VerifyPassword(encoded, password string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, fmt.Errorf("could not decode password hash: %w", err)
	}
	if len(raw) != hashSaltBytes+hashKeyBytes {
		return false, fmt.Errorf("password hash has invalid length %d", len(raw))
	}

	salt, want := raw[:hashSaltBytes], raw[hashSaltBytes:]
	got := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyBytes, sha256.New)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
