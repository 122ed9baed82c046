package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// licenseBytes gives 64 hex characters per key.
const licenseBytes = 32

// NewLicenseKey generates a license key: 32 random bytes, hex-encoded,
// uppercased.
func NewLicenseKey() (string, error) {
	buf := make([]byte, licenseBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not read entropy: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
