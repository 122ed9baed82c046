package appdeploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/whiskerauth/provisioner/hostcmd"
)

// VenvStep builds the application's virtual environment and installs its
// dependencies plus the gunicorn server the unit launches.
type VenvStep struct {
	runner hostcmd.Runner
	log    *slog.Logger
	cfg    Config
}

// NewVenvStep creates the Python dependency step.
func NewVenvStep(runner hostcmd.Runner, log *slog.Logger, cfg Config) *VenvStep {
	return &VenvStep{runner: runner, log: log, cfg: cfg}
}

func (s *VenvStep) Name() string { return "python dependencies" }

// Check is satisfied when the virtualenv interpreter exists. Dependency
// drift inside an existing venv is reconciled by pip during Apply, which
// re-runs whenever the deployed tree changed.
func (s *VenvStep) Check(ctx context.Context) (bool, error) {
	_, err := os.Stat(filepath.Join(s.cfg.AppDir, "venv", "bin", "python"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *VenvStep) Apply(ctx context.Context) error {
	venv := filepath.Join(s.cfg.AppDir, "venv")
	if _, err := os.Stat(filepath.Join(venv, "bin", "python")); os.IsNotExist(err) {
		if err := s.runner.Run(ctx, "python3", "-m", "venv", venv); err != nil {
			return fmt.Errorf("could not create virtualenv: %w", err)
		}
	}

	pip := filepath.Join(venv, "bin", "pip")
	requirements := filepath.Join(s.cfg.AppDir, "requirements.txt")
	if _, err := os.Stat(requirements); err == nil {
		if err := s.runner.Run(ctx, pip, "install", "-q", "-r", requirements); err != nil {
			return fmt.Errorf("could not install requirements: %w", err)
		}
	}

	if err := s.runner.Run(ctx, pip, "install", "-q", "gunicorn"); err != nil {
		return fmt.Errorf("could not install gunicorn: %w", err)
	}

	s.log.Info("Python environment ready", "venv", venv)
	return nil
}

// initSchemaSnippet invokes the application's schema-initialization entry
// point: the backend exposes create_app and init_db for exactly this
// external use.
const initSchemaSnippet = "from app import create_app, init_db; init_db(create_app())"

// InitSchemaStep runs the application's own database initialization as the
// service account.
type InitSchemaStep struct {
	runner hostcmd.Runner
	log    *slog.Logger
	cfg    Config
}

// NewInitSchemaStep creates the schema initialization step.
func NewInitSchemaStep(runner hostcmd.Runner, log *slog.Logger, cfg Config) *InitSchemaStep {
	return &InitSchemaStep{runner: runner, log: log, cfg: cfg}
}

func (s *InitSchemaStep) Name() string { return "application schema" }

// Check always applies: the hook is the application's own idempotent
// create-if-missing initialization, and only the application can tell
// whether its schema is current.
func (s *InitSchemaStep) Check(ctx context.Context) (bool, error) {
	return false, nil
}

func (s *InitSchemaStep) Apply(ctx context.Context) error {
	python := filepath.Join(s.cfg.AppDir, "venv", "bin", "python")
	err := s.runner.RunInDir(ctx, s.cfg.AppDir,
		"sudo", "-u", s.cfg.ServiceUser, python, "-c", initSchemaSnippet)
	if err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	s.log.Info("Application schema initialized")
	return nil
}
