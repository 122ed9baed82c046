// Package packages converges the host's OS package state through apt.
package packages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whiskerauth/provisioner/hostcmd"
)

// Defaults lists the OS packages the Whisker Auth deployment needs: the
// Python runtime for the backend, nginx as reverse proxy, PostgreSQL, and
// ufw for the firewall.
var Defaults = []string{
	"python3",
	"python3-venv",
	"python3-pip",
	"nginx",
	"postgresql",
	"postgresql-contrib",
	"libpq-dev",
	"ufw",
}

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

// AptStep installs a set of apt packages. The step is satisfied when every
// package is already installed, so re-runs skip the network entirely.
type AptStep struct {
	runner   hostcmd.Runner
	log      *slog.Logger
	packages []string
}

// NewAptStep creates the package installation step.
func NewAptStep(runner hostcmd.Runner, log *slog.Logger, pkgs []string) *AptStep {
	return &AptStep{runner: runner, log: log, packages: pkgs}
}

func (s *AptStep) Name() string { return "os packages" }

// Check queries dpkg for each package's install state.
func (s *AptStep) Check(ctx context.Context) (bool, error) {
	missing, err := s.missing(ctx)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// Apply refreshes the package index and installs whatever is missing.
func (s *AptStep) Apply(ctx context.Context) error {
	missing, err := s.missing(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	s.log.Info("Installing packages", "packages", strings.Join(missing, " "))
	if err := s.runner.RunEnv(ctx, aptEnv, "apt-get", "update", "-q"); err != nil {
		return fmt.Errorf("could not update package index: %w", err)
	}

	args := append([]string{"install", "-y", "-q"}, missing...)
	if err := s.runner.RunEnv(ctx, aptEnv, "apt-get", args...); err != nil {
		return fmt.Errorf("could not install packages: %w", err)
	}
	return nil
}

func (s *AptStep) missing(ctx context.Context) ([]string, error) {
	var missing []string
	for _, pkg := range s.packages {
		out, err := s.runner.Output(ctx, "dpkg-query", "-W", "-f", "${Status}", pkg)
		if err != nil || !strings.Contains(string(out), "install ok installed") {
			missing = append(missing, pkg)
		}
	}
	return missing, nil
}
