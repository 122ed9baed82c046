// Package appdeploy places the application files on the host, builds the
// Python environment they run in, and invokes the application's own schema
// initialization hook.
package appdeploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Config describes where the application comes from and where it lives.
type Config struct {
	// SourceDir holds the application release to deploy.
	SourceDir string

	// AppDir is the deployment target, owned by the service account.
	AppDir string

	// ServiceUser runs the schema initialization hook.
	ServiceUser string

	// StateDir records the hash of the deployed tree between runs.
	StateDir string
}

// DeployStep copies the application tree into place. The step is satisfied
// when the recorded hash of the last deployed tree matches the source tree,
// so unchanged releases skip the copy.
type DeployStep struct {
	log   *slog.Logger
	cfg   Config
	chown func(root string) error
}

// NewDeployStep creates the file deployment step.
func NewDeployStep(log *slog.Logger, cfg Config) *DeployStep {
	return &DeployStep{log: log, cfg: cfg}
}

// ChownWith registers the ownership converger run after every copy. The copy
// runs as root, so files new to the tree are root-owned until this runs.
func (s *DeployStep) ChownWith(fn func(root string) error) {
	s.chown = fn
}

func (s *DeployStep) Name() string { return "application files" }

func (s *DeployStep) Check(ctx context.Context) (bool, error) {
	want, err := TreeHash(s.cfg.SourceDir)
	if err != nil {
		return false, fmt.Errorf("could not hash source tree: %w", err)
	}

	recorded, err := os.ReadFile(s.hashPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return string(recorded) == want, nil
}

func (s *DeployStep) Apply(ctx context.Context) error {
	if err := copyTree(s.cfg.SourceDir, s.cfg.AppDir); err != nil {
		return fmt.Errorf("could not deploy application files: %w", err)
	}
	if s.chown != nil {
		if err := s.chown(s.cfg.AppDir); err != nil {
			return fmt.Errorf("could not converge ownership of deployed tree: %w", err)
		}
	}

	hash, err := TreeHash(s.cfg.SourceDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.cfg.StateDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.hashPath(), []byte(hash), 0o644); err != nil {
		return fmt.Errorf("could not record deployed tree hash: %w", err)
	}

	s.log.Info("Deployed application files", "source", s.cfg.SourceDir, "target", s.cfg.AppDir)
	return nil
}

func (s *DeployStep) hashPath() string {
	return filepath.Join(s.cfg.StateDir, "deployed.sha256")
}

// TreeHash computes a SHA-256 digest over a directory tree: relative paths
// and file contents in sorted order. Two trees with the same hash deploy
// identically.
func TreeHash(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", err
		}
		io.WriteString(h, rel)
		h.Write([]byte{0})

		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and specials are not expected in a release tree.
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
