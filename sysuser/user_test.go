package sysuser

import (
	"context"
	"io"
	"log/slog"
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskerauth/provisioner/hostcmd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckUnknownUserMeansUnsatisfied(t *testing.T) {
	step := NewStep(hostcmd.NewRecorder(), testLogger(), Account{Name: "whisker", HomeDir: t.TempDir()})
	step.lookup = func(name string) (*user.User, error) {
		return nil, user.UnknownUserError(name)
	}

	satisfied, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, satisfied)
}

func TestApplyCreatesMissingAccount(t *testing.T) {
	rec := hostcmd.NewRecorder()
	home := t.TempDir()

	current, err := user.Current()
	require.NoError(t, err)

	calls := 0
	step := NewStep(rec, testLogger(), Account{Name: "whisker", HomeDir: home})
	step.lookup = func(name string) (*user.User, error) {
		calls++
		if calls == 1 {
			// Account missing on the first lookup, present after useradd.
			return nil, user.UnknownUserError(name)
		}
		return current, nil
	}

	require.NoError(t, step.Apply(context.Background()))

	lines := rec.CommandLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "useradd --system --home-dir "+home+" --shell /usr/sbin/nologin whisker", lines[0])
}

func TestApplyIsIdempotentForExistingAccount(t *testing.T) {
	rec := hostcmd.NewRecorder()
	home := t.TempDir()

	current, err := user.Current()
	require.NoError(t, err)

	step := NewStep(rec, testLogger(), Account{Name: current.Username, HomeDir: home})
	step.lookup = func(string) (*user.User, error) { return current, nil }

	require.NoError(t, step.Apply(context.Background()))
	assert.Empty(t, rec.CommandLines(), "no useradd for an existing account")

	// The tree it just converged reads back as satisfied.
	satisfied, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, satisfied)
}
