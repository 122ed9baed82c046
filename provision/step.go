// Package provision contains the convergence engine that drives a host from
// bare state to a running Whisker Auth deployment. Each host mutation is a
// Step: a named convergence action that first checks whether the host already
// satisfies its goal and only then applies changes. Re-running a plan against
// an already provisioned host is safe.
package provision

import (
	"context"
	"errors"
	"os"
)

// Step is a single convergence action within a provisioning plan.
type Step interface {
	// Name identifies the step in logs and in the final report.
	Name() string

	// Check reports whether the host already satisfies this step's goal.
	// When it returns true, Apply is skipped.
	Check(ctx context.Context) (bool, error)

	// Apply mutates the host towards the step's goal.
	Apply(ctx context.Context) error
}

// Sentinel errors shared across the provisioning packages.
var (
	// ErrNotPrivileged is returned when the process lacks root privileges.
	ErrNotPrivileged = errors.New("provisioning requires root privileges")

	// ErrAlreadyExists marks a tolerated idempotency conflict: the resource
	// a step tried to create was already present. The runner logs a warning
	// and continues instead of aborting.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrLocked is returned when another provisioning run holds the host lock.
	ErrLocked = errors.New("another provisioning run is in progress")
)

// RequireRoot verifies the process runs with administrative privileges.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return ErrNotPrivileged
	}
	return nil
}

// funcStep adapts a pair of closures into a Step. Used for small steps that
// do not warrant their own type.
type funcStep struct {
	name  string
	check func(ctx context.Context) (bool, error)
	apply func(ctx context.Context) error
}

// NewStep creates a Step from closures. A nil check means "always apply".
func NewStep(name string, check func(ctx context.Context) (bool, error), apply func(ctx context.Context) error) Step {
	return &funcStep{name: name, check: check, apply: apply}
}

func (s *funcStep) Name() string { return s.name }

func (s *funcStep) Check(ctx context.Context) (bool, error) {
	if s.check == nil {
		return false, nil
	}
	return s.check(ctx)
}

func (s *funcStep) Apply(ctx context.Context) error {
	return s.apply(ctx)
}
