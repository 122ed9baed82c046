// Package firewall converges the host firewall: deny all inbound traffic
// except SSH and the web ports nginx serves.
package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whiskerauth/provisioner/hostcmd"
)

// AllowedApps are the only ufw application profiles permitted inbound.
var AllowedApps = []string{"OpenSSH", "Nginx Full"}

// Step drives ufw to the desired state: enabled, default deny incoming,
// default allow outgoing, with only AllowedApps permitted.
type Step struct {
	runner hostcmd.Runner
	log    *slog.Logger
}

// NewStep creates the firewall convergence step.
func NewStep(runner hostcmd.Runner, log *slog.Logger) *Step {
	return &Step{runner: runner, log: log}
}

func (s *Step) Name() string { return "firewall" }

// Check parses `ufw status verbose` and is satisfied when the firewall is
// active, denies inbound by default, and allows each required profile.
func (s *Step) Check(ctx context.Context) (bool, error) {
	out, err := s.runner.Output(ctx, "ufw", "status", "verbose")
	if err != nil {
		return false, fmt.Errorf("could not query firewall status: %w", err)
	}

	state := ParseStatus(string(out))
	if !state.Active || !state.DefaultDenyIncoming {
		return false, nil
	}
	for _, app := range AllowedApps {
		if !state.Allows(app) {
			return false, nil
		}
	}
	return true, nil
}

// Apply configures defaults and rules, then enables the firewall.
// Rule additions are idempotent in ufw itself.
func (s *Step) Apply(ctx context.Context) error {
	if err := s.runner.Run(ctx, "ufw", "default", "deny", "incoming"); err != nil {
		return fmt.Errorf("could not set default deny: %w", err)
	}
	if err := s.runner.Run(ctx, "ufw", "default", "allow", "outgoing"); err != nil {
		return fmt.Errorf("could not set default allow outgoing: %w", err)
	}

	for _, app := range AllowedApps {
		if err := s.runner.Run(ctx, "ufw", "allow", app); err != nil {
			return fmt.Errorf("could not allow %s: %w", app, err)
		}
	}

	// --force answers the interactive "may disrupt existing ssh" prompt.
	if err := s.runner.Run(ctx, "ufw", "--force", "enable"); err != nil {
		return fmt.Errorf("could not enable firewall: %w", err)
	}

	s.log.Info("Firewall enabled", "allowed", strings.Join(AllowedApps, ", "))
	return nil
}

// State is the parsed result of `ufw status verbose`.
type State struct {
	Active              bool
	DefaultDenyIncoming bool
	AllowedRules        []string
}

// Allows reports whether an ALLOW IN rule for the named profile is present.
func (s State) Allows(app string) bool {
	for _, rule := range s.AllowedRules {
		if rule == app {
			return true
		}
	}
	return false
}

// ParseStatus extracts firewall state from `ufw status verbose` output.
func ParseStatus(output string) State {
	var state State
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Status:"):
			state.Active = strings.Contains(line, "active")
		case strings.HasPrefix(line, "Default:"):
			state.DefaultDenyIncoming = strings.Contains(line, "deny (incoming)")
		case strings.Contains(line, "ALLOW IN"):
			name := strings.TrimSpace(strings.SplitN(line, "ALLOW IN", 2)[0])
			// Strip the "(v6)" suffix ufw appends for IPv6 duplicates.
			name = strings.TrimSpace(strings.TrimSuffix(name, "(v6)"))
			if name != "" && !state.Allows(name) {
				state.AllowedRules = append(state.AllowedRules, name)
			}
		}
	}
	return state
}
