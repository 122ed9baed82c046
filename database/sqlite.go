package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/whiskerauth/provisioner/secrets"
)

// SetupOptions configures the manual SQLite setup.
type SetupOptions struct {
	// Path of the instance database file. Parent directories are created.
	Path string

	// AdminUsername / AdminPassword seed the administrator account.
	AdminUsername string
	AdminPassword string
	AdminEmail    string
}

// SetupResult reports what the setup created, for the summary banner.
type SetupResult struct {
	Path          string
	AdminUsername string
	AdminPassword string
	SampleLicense string
	SampleType    string
}

// sampleLicenses are the license tiers seeded into a fresh database.
var sampleLicenses = []struct {
	Type    string
	MaxApps int
}{
	{"standard", 5},
	{"premium", 10},
	{"enterprise", 25},
}

// Setup creates the Whisker Auth instance database: schema, admin account,
// sample licenses, and a demo application. All inserts use OR IGNORE, so
// running it against an existing database only fills in what is missing.
func Setup(ctx context.Context, opts SetupOptions) (*SetupResult, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("could not create schema: %w", err)
	}

	if err := seedAdmin(ctx, db, opts); err != nil {
		return nil, err
	}
	if err := seedLicenses(ctx, db); err != nil {
		return nil, err
	}
	if err := seedApplication(ctx, db); err != nil {
		return nil, err
	}

	result := &SetupResult{
		Path:          opts.Path,
		AdminUsername: opts.AdminUsername,
		AdminPassword: opts.AdminPassword,
	}

	// Surface one unused license for the operator to hand out.
	row := db.QueryRowContext(ctx,
		`SELECT key, type FROM txa_licenses WHERE status = 'unused' ORDER BY id LIMIT 1`)
	if err := row.Scan(&result.SampleLicense, &result.SampleType); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("could not read seeded license: %w", err)
	}

	return result, nil
}

func seedAdmin(ctx context.Context, db *sql.DB, opts SetupOptions) error {
	passwordHash, err := secrets.HashPassword(opts.AdminPassword)
	if err != nil {
		return err
	}
	salt, err := randomHex(16)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT OR IGNORE INTO txa_users (
    uuid, username, email, password_hash, password_salt,
    status, is_admin, security_level, license_type
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), opts.AdminUsername, opts.AdminEmail,
		passwordHash, salt,
		"active", 1, 10, "enterprise")
	if err != nil {
		return fmt.Errorf("could not seed admin account: %w", err)
	}
	return nil
}

func seedLicenses(ctx context.Context, db *sql.DB) error {
	// Only top up to the sample count; re-runs must not mint extra keys.
	var existing int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM txa_licenses`).Scan(&existing); err != nil {
		return fmt.Errorf("could not count licenses: %w", err)
	}
	if existing >= len(sampleLicenses) {
		return nil
	}

	for _, lic := range sampleLicenses[existing:] {
		key, err := secrets.NewLicenseKey()
		if err != nil {
			return err
		}
		_, err = db.ExecContext(ctx, `
INSERT OR IGNORE INTO txa_licenses (key, type, max_applications)
VALUES (?, ?, ?)`, key, lic.Type, lic.MaxApps)
		if err != nil {
			return fmt.Errorf("could not seed %s license: %w", lic.Type, err)
		}
	}
	return nil
}

func seedApplication(ctx context.Context, db *sql.DB) error {
	// The application name is not unique in the schema, so guard explicitly
	// against inserting a second demo row on re-run.
	var existing int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM txa_applications WHERE name = ?`, "Whisker Auth Demo").Scan(&existing); err != nil {
		return fmt.Errorf("could not count applications: %w", err)
	}
	if existing > 0 {
		return nil
	}

	appSecret, err := randomHex(32)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT OR IGNORE INTO txa_applications (
    uuid, name, description, current_version, minimum_version, secret_key
) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), "Whisker Auth Demo",
		"Demo application for TXA authentication",
		"3.1.2", "3.0.0", appSecret)
	if err != nil {
		return fmt.Errorf("could not seed demo application: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
