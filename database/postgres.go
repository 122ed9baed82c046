// Package database converges the PostgreSQL role and database the backend
// uses, and provides the manual SQLite setup used by the whisker-dbsetup
// tool.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whiskerauth/provisioner/hostcmd"
	"github.com/whiskerauth/provisioner/provision"
)

// PostgresConfig names the role and database to converge.
type PostgresConfig struct {
	Role     string
	Database string
}

// PostgresStep creates the role and database if missing and keeps the role
// password in sync with the persisted secret bundle. Duplicate creation is a
// tolerated conflict, not a failure.
type PostgresStep struct {
	runner   hostcmd.Runner
	log      *slog.Logger
	cfg      PostgresConfig
	password string
}

// NewPostgresStep creates the database convergence step.
func NewPostgresStep(runner hostcmd.Runner, log *slog.Logger, cfg PostgresConfig, password string) *PostgresStep {
	return &PostgresStep{runner: runner, log: log, cfg: cfg, password: password}
}

func (s *PostgresStep) Name() string { return "postgres role and database" }

// Check is satisfied when the role and the database exist and the role
// authenticates with the persisted password. A role carried over from an
// older deployment can exist with a stale password; that still needs Apply
// so the sync runs.
func (s *PostgresStep) Check(ctx context.Context) (bool, error) {
	roleExists, err := s.exists(ctx, fmt.Sprintf("SELECT 1 FROM pg_roles WHERE rolname='%s'", s.cfg.Role))
	if err != nil {
		return false, err
	}
	dbExists, err := s.exists(ctx, fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname='%s'", s.cfg.Database))
	if err != nil {
		return false, err
	}
	if !roleExists || !dbExists {
		return false, nil
	}
	return s.credentialWorks(ctx), nil
}

// credentialWorks probes authentication as the role over loopback, the same
// way the backend connects.
func (s *PostgresStep) credentialWorks(ctx context.Context) bool {
	err := s.runner.RunEnv(ctx, []string{"PGPASSWORD=" + s.password},
		"psql", "-h", "127.0.0.1", "-U", s.cfg.Role, "-d", s.cfg.Database, "-tAc", "SELECT 1")
	if err != nil {
		s.log.Info("Role password is stale, sync needed", "role", s.cfg.Role)
		return false
	}
	return true
}

// Apply creates role and database, tolerating pre-existing ones, then
// converges the role password so the distributed credential always matches
// the live role.
func (s *PostgresStep) Apply(ctx context.Context) error {
	createRole := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", s.cfg.Role, quoteSQL(s.password))
	conflictRole, err := s.execTolerant(ctx, createRole)
	if err != nil {
		return fmt.Errorf("could not create role %s: %w", s.cfg.Role, err)
	}
	if conflictRole {
		s.log.Warn("Role already exists", "role", s.cfg.Role)
	}

	createDB := fmt.Sprintf("CREATE DATABASE %s OWNER %s", s.cfg.Database, s.cfg.Role)
	conflictDB, err := s.execTolerant(ctx, createDB)
	if err != nil {
		return fmt.Errorf("could not create database %s: %w", s.cfg.Database, err)
	}
	if conflictDB {
		s.log.Warn("Database already exists", "database", s.cfg.Database)
	}

	// Keep the live credential aligned with the persisted bundle. On a host
	// provisioned by an older run this is what repairs a stale password.
	alter := fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD '%s'", s.cfg.Role, quoteSQL(s.password))
	if err := s.psql(ctx, alter); err != nil {
		return fmt.Errorf("could not sync role password: %w", err)
	}

	if conflictRole || conflictDB {
		return fmt.Errorf("%s/%s: %w", s.cfg.Role, s.cfg.Database, provision.ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStep) exists(ctx context.Context, query string) (bool, error) {
	out, err := s.runner.Output(ctx, "sudo", "-u", "postgres", "psql", "-tAc", query)
	if err != nil {
		return false, fmt.Errorf("could not query postgres: %w", err)
	}
	return strings.TrimSpace(string(out)) == "1", nil
}

// execTolerant runs a DDL statement, reporting (true, nil) when the target
// already existed.
func (s *PostgresStep) execTolerant(ctx context.Context, stmt string) (bool, error) {
	err := s.psql(ctx, stmt)
	if err == nil {
		return false, nil
	}
	var cmdErr *hostcmd.CommandError
	if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Output, "already exists") {
		return true, nil
	}
	return false, err
}

func (s *PostgresStep) psql(ctx context.Context, stmt string) error {
	return s.runner.Run(ctx, "sudo", "-u", "postgres", "psql", "-c", stmt)
}

func quoteSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
