package systemd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// Step converges the backend service: the unit file is installed, systemd
// has picked it up, and the service is enabled and running.
type Step struct {
	manager *Manager
	log     *slog.Logger
	cfg     UnitConfig
}

// NewStep creates the backend service convergence step.
func NewStep(manager *Manager, log *slog.Logger, cfg UnitConfig) *Step {
	return &Step{manager: manager, log: log, cfg: cfg}
}

func (s *Step) Name() string { return "backend service" }

// Check is satisfied when the installed unit matches the rendered one and
// the service is active.
func (s *Step) Check(ctx context.Context) (bool, error) {
	want, err := RenderUnit(s.cfg)
	if err != nil {
		return false, err
	}

	got, err := os.ReadFile(filepath.Join(s.manager.unitDir, s.cfg.UnitFileName()))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(want, got) {
		return false, nil
	}

	state, err := s.manager.ActiveState(ctx, s.cfg.UnitFileName())
	if err != nil {
		return false, err
	}
	return state == "active", nil
}

// Apply installs the unit, reloads systemd when the file changed, and
// enables and starts the service.
func (s *Step) Apply(ctx context.Context) error {
	changed, err := s.manager.WriteUnit(s.cfg)
	if err != nil {
		return err
	}
	if changed {
		if err := s.manager.DaemonReload(ctx); err != nil {
			return err
		}
	}
	return s.manager.EnableAndStart(ctx, s.cfg.UnitFileName())
}
