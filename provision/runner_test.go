package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunnerOrderAndStatuses(t *testing.T) {
	var applied []string
	mkStep := func(name string, satisfied bool) Step {
		return NewStep(name,
			func(ctx context.Context) (bool, error) { return satisfied, nil },
			func(ctx context.Context) error {
				applied = append(applied, name)
				return nil
			})
	}

	runner := NewRunner(discardLogger(), []Step{
		mkStep("packages", false),
		mkStep("service account", true),
		mkStep("firewall", false),
	}, false)

	summary := runner.Run(context.Background())
	require.False(t, summary.Failed())
	assert.Equal(t, []string{"packages", "firewall"}, applied)

	require.Len(t, summary.Steps, 3)
	assert.Equal(t, StatusApplied, summary.Steps[0].Status)
	assert.Equal(t, StatusSatisfied, summary.Steps[1].Status)
	assert.Equal(t, StatusApplied, summary.Steps[2].Status)
}

func TestRunnerAbortsOnFirstFailure(t *testing.T) {
	bootErr := errors.New("apt-get exited 100")
	var laterRan bool

	runner := NewRunner(discardLogger(), []Step{
		NewStep("packages", nil, func(ctx context.Context) error { return bootErr }),
		NewStep("service account", nil, func(ctx context.Context) error {
			laterRan = true
			return nil
		}),
	}, false)

	summary := runner.Run(context.Background())
	require.True(t, summary.Failed())
	assert.ErrorIs(t, summary.Err, bootErr)
	assert.False(t, laterRan)

	require.Len(t, summary.Steps, 2)
	assert.Equal(t, StatusFailed, summary.Steps[0].Status)
	assert.Equal(t, StatusSkipped, summary.Steps[1].Status)
}

func TestRunnerToleratesAlreadyExists(t *testing.T) {
	conflict := fmt.Errorf("database whisker_auth: %w", ErrAlreadyExists)
	var laterRan bool

	runner := NewRunner(discardLogger(), []Step{
		NewStep("database", nil, func(ctx context.Context) error { return conflict }),
		NewStep("firewall", nil, func(ctx context.Context) error {
			laterRan = true
			return nil
		}),
	}, false)

	summary := runner.Run(context.Background())
	require.False(t, summary.Failed())
	assert.True(t, laterRan)
	assert.Equal(t, StatusWarned, summary.Steps[0].Status)
	assert.Equal(t, StatusApplied, summary.Steps[1].Status)
}

func TestRunnerDryRunNeverApplies(t *testing.T) {
	var appliedCount int
	runner := NewRunner(discardLogger(), []Step{
		NewStep("packages", nil, func(ctx context.Context) error {
			appliedCount++
			return nil
		}),
	}, true)

	summary := runner.Run(context.Background())
	require.False(t, summary.Failed())
	assert.Zero(t, appliedCount)
}

// Dry runs may execute unprivileged, so checks that shell out to root-only
// commands can fail. That reads as pending work, not as a run failure.
func TestRunnerDryRunToleratesCheckErrors(t *testing.T) {
	probeErr := errors.New("psql: permission denied")
	var laterRan bool

	runner := NewRunner(discardLogger(), []Step{
		NewStep("database",
			func(ctx context.Context) (bool, error) { return false, probeErr },
			func(ctx context.Context) error { return nil }),
		NewStep("firewall",
			func(ctx context.Context) (bool, error) {
				laterRan = true
				return false, nil
			},
			func(ctx context.Context) error { return nil }),
	}, true)

	summary := runner.Run(context.Background())
	require.False(t, summary.Failed())
	assert.True(t, laterRan)
	assert.Equal(t, StatusSatisfied, summary.Steps[0].Status)
}

func TestRunnerCheckErrorFailsOutsideDryRun(t *testing.T) {
	probeErr := errors.New("psql: permission denied")

	runner := NewRunner(discardLogger(), []Step{
		NewStep("database",
			func(ctx context.Context) (bool, error) { return false, probeErr },
			func(ctx context.Context) error { return nil }),
	}, false)

	summary := runner.Run(context.Background())
	require.True(t, summary.Failed())
	assert.ErrorIs(t, summary.Err, probeErr)
}

func TestRunnerRejectsReentry(t *testing.T) {
	runner := NewRunner(discardLogger(), nil, false)
	runner.running.Store(true)

	summary := runner.Run(context.Background())
	assert.ErrorIs(t, summary.Err, ErrLocked)
}

func TestHostLockExcludesSecondAcquirer(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireHostLock(stateDir)
	require.NoError(t, err)
	defer lock.Release()

	_, err = AcquireHostLock(stateDir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())
	relock, err := AcquireHostLock(stateDir)
	require.NoError(t, err)
	require.NoError(t, relock.Release())
}

func TestRequireRootErrorShape(t *testing.T) {
	// Exercised for the unprivileged case only; CI never runs as root.
	err := RequireRoot()
	if err != nil {
		assert.ErrorIs(t, err, ErrNotPrivileged)
	}
}
