// Package sysuser manages the restricted system account that owns the
// deployed application tree and runs the backend service.
package sysuser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/whiskerauth/provisioner/hostcmd"
)

// Account describes the service account the deployment runs under.
type Account struct {
	Name    string
	HomeDir string
}

// Step creates the service account and its home/application directory and
// makes sure the account owns the tree.
type Step struct {
	runner  hostcmd.Runner
	log     *slog.Logger
	account Account

	// lookup is swapped in tests.
	lookup func(name string) (*user.User, error)
}

// NewStep creates the service-account convergence step.
func NewStep(runner hostcmd.Runner, log *slog.Logger, account Account) *Step {
	return &Step{runner: runner, log: log, account: account, lookup: user.Lookup}
}

func (s *Step) Name() string { return "service account" }

// Check is satisfied when the account exists and its home directory is
// present and owned by it.
func (s *Step) Check(ctx context.Context) (bool, error) {
	u, err := s.lookup(s.account.Name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return false, nil
		}
		return false, fmt.Errorf("could not look up user %q: %w", s.account.Name, err)
	}

	info, err := os.Stat(s.account.HomeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists but is not a directory", s.account.HomeDir)
	}

	uid, gid, err := ids(u)
	if err != nil {
		return false, err
	}
	return ownedBy(info, uid, gid), nil
}

// Apply creates the account if missing and converges directory ownership.
func (s *Step) Apply(ctx context.Context) error {
	if _, err := s.lookup(s.account.Name); err != nil {
		s.log.Info("Creating system account", "user", s.account.Name)
		err := s.runner.Run(ctx, "useradd",
			"--system",
			"--home-dir", s.account.HomeDir,
			"--shell", "/usr/sbin/nologin",
			s.account.Name)
		if err != nil {
			return fmt.Errorf("could not create system account: %w", err)
		}
	}

	if err := os.MkdirAll(s.account.HomeDir, 0o755); err != nil {
		return fmt.Errorf("could not create application directory: %w", err)
	}

	return s.ChownTree(s.account.HomeDir)
}

// ChownTree recursively assigns ownership of a directory tree to the
// service account.
func (s *Step) ChownTree(root string) error {
	u, err := s.lookup(s.account.Name)
	if err != nil {
		return fmt.Errorf("could not look up user %q: %w", s.account.Name, err)
	}
	uid, gid, err := ids(u)
	if err != nil {
		return err
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := os.Chown(path, uid, gid); err != nil {
			return fmt.Errorf("could not chown %s: %w", path, err)
		}
		return nil
	})
}

func ids(u *user.User) (int, int, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("unparseable uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("unparseable gid %q: %w", u.Gid, err)
	}
	return uid, gid, nil
}
