package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"
)

// StepStatus describes the outcome of a single step in a plan run.
type StepStatus string

const (
	// StatusApplied means the step mutated the host.
	StatusApplied StepStatus = "applied"
	// StatusSatisfied means the check found nothing to do.
	StatusSatisfied StepStatus = "satisfied"
	// StatusWarned means the step hit a tolerated idempotency conflict.
	StatusWarned StepStatus = "warned"
	// StatusFailed means the step aborted the run.
	StatusFailed StepStatus = "failed"
	// StatusSkipped means the run aborted before reaching the step.
	StatusSkipped StepStatus = "skipped"
)

// StepResult is the per-step record in a run summary.
type StepResult struct {
	Name     string
	Status   StepStatus
	Err      error
	Duration time.Duration
}

// Summary aggregates the outcome of a plan run.
type Summary struct {
	Steps   []StepResult
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the run aborted.
func (s *Summary) Failed() bool { return s.Err != nil }

// Runner executes a provisioning plan: an ordered list of convergence steps
// under abort-on-first-failure semantics. Steps whose Apply fails with
// ErrAlreadyExists are tolerated; the conflict is logged as a warning and the
// run continues.
type Runner struct {
	log     *slog.Logger
	steps   []Step
	dryRun  bool
	running atomic.Bool
}

// NewRunner creates a runner for the given ordered steps. With dryRun set,
// Apply is never called; the runner only reports what each step would do.
func NewRunner(log *slog.Logger, steps []Step, dryRun bool) *Runner {
	return &Runner{log: log, steps: steps, dryRun: dryRun}
}

// Run executes the plan. It refuses to run concurrently with itself: the
// steps mutate global host state and are not safe to interleave.
func (r *Runner) Run(ctx context.Context) *Summary {
	if !r.running.CompareAndSwap(false, true) {
		return &Summary{Err: ErrLocked}
	}
	defer r.running.Store(false)

	start := time.Now()
	summary := &Summary{Steps: make([]StepResult, 0, len(r.steps))}

	for i, step := range r.steps {
		if summary.Err != nil {
			summary.Steps = append(summary.Steps, StepResult{Name: step.Name(), Status: StatusSkipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			summary.Err = err
			summary.Steps = append(summary.Steps, StepResult{Name: step.Name(), Status: StatusSkipped})
			continue
		}

		result := r.runStep(ctx, i+1, step)
		summary.Steps = append(summary.Steps, result)
		if result.Status == StatusFailed {
			summary.Err = fmt.Errorf("step %q failed: %w", step.Name(), result.Err)
		}
	}

	summary.Elapsed = time.Since(start)
	return summary
}

func (r *Runner) runStep(ctx context.Context, position int, step Step) StepResult {
	log := r.log.With("step", step.Name(), "position", position)
	start := time.Now()

	satisfied, err := step.Check(ctx)
	if err != nil {
		if r.dryRun {
			// Dry runs are allowed without privileges, so checks that shell
			// out may fail. Report the step as pending work, not an abort.
			log.Warn("Dry run: could not evaluate step, assuming it would apply", "err", err)
			return StepResult{Name: step.Name(), Status: StatusSatisfied, Duration: time.Since(start)}
		}
		log.Error("Step check failed", "err", err)
		return StepResult{Name: step.Name(), Status: StatusFailed, Err: err, Duration: time.Since(start)}
	}
	if satisfied {
		log.Info("Already converged, nothing to do")
		return StepResult{Name: step.Name(), Status: StatusSatisfied, Duration: time.Since(start)}
	}

	if r.dryRun {
		log.Info("Dry run: step would apply changes")
		return StepResult{Name: step.Name(), Status: StatusSatisfied, Duration: time.Since(start)}
	}

	log.Info("Applying")
	if err := step.Apply(ctx); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			log.Warn("Resource already exists, continuing", "err", err)
			return StepResult{Name: step.Name(), Status: StatusWarned, Err: err, Duration: time.Since(start)}
		}
		log.Error("Step failed", "err", err)
		return StepResult{Name: step.Name(), Status: StatusFailed, Err: err, Duration: time.Since(start)}
	}

	log.Info("Applied", "duration", time.Since(start).Round(time.Millisecond))
	return StepResult{Name: step.Name(), Status: StatusApplied, Duration: time.Since(start)}
}
