// Package hostcmd wraps execution of host commands so that convergence steps
// can be exercised in tests without mutating the machine they run on.
package hostcmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner executes host commands. The production implementation shells out;
// tests substitute a Recorder.
type Runner interface {
	// Run executes a command and returns an error carrying the combined
	// output if the command fails.
	Run(ctx context.Context, name string, args ...string) error

	// RunEnv behaves like Run with additional environment variables
	// appended to the current process environment.
	RunEnv(ctx context.Context, env []string, name string, args ...string) error

	// RunInput behaves like Run with the given string piped to stdin.
	RunInput(ctx context.Context, stdin string, name string, args ...string) error

	// RunInDir behaves like Run with the command's working directory set.
	RunInDir(ctx context.Context, dir string, name string, args ...string) error

	// Output executes a command and returns its combined stdout and stderr.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	log *slog.Logger
}

// NewRunner returns a Runner that executes commands on the local host.
func NewRunner(log *slog.Logger) Runner {
	return &execRunner{log: log}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	return r.run(ctx, nil, "", "", name, args)
}

func (r *execRunner) RunEnv(ctx context.Context, env []string, name string, args ...string) error {
	return r.run(ctx, env, "", "", name, args)
}

func (r *execRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) error {
	return r.run(ctx, nil, stdin, "", name, args)
}

func (r *execRunner) RunInDir(ctx context.Context, dir string, name string, args ...string) error {
	return r.run(ctx, nil, "", dir, name, args)
}

func (r *execRunner) run(ctx context.Context, env []string, stdin, dir string, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	if dir != "" {
		cmd.Dir = dir
	}

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	r.log.Debug("Running host command", "cmd", name, "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return &CommandError{
			Command: name + " " + strings.Join(args, " "),
			Output:  combined.String(),
			Err:     err,
		}
	}
	return nil
}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	r.log.Debug("Running host command", "cmd", name, "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return combined.Bytes(), &CommandError{
			Command: name + " " + strings.Join(args, " "),
			Output:  combined.String(),
			Err:     err,
		}
	}
	return combined.Bytes(), nil
}

// CommandError is returned when a host command exits with a failure. It keeps
// the combined output so callers can match on messages like "already exists".
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
