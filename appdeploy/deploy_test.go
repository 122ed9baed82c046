package appdeploy

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskerauth/provisioner/hostcmd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		SourceDir:   t.TempDir(),
		AppDir:      t.TempDir(),
		ServiceUser: "whisker",
		StateDir:    t.TempDir(),
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "app.py"), []byte("app = 1\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SourceDir, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "static", "main.css"), []byte("body {}\n"), 0o644))
	return cfg
}

func TestDeployCopiesTreeAndRecordsHash(t *testing.T) {
	cfg := testConfig(t)
	step := NewDeployStep(testLogger(), cfg)
	ctx := context.Background()

	satisfied, err := step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, satisfied)

	require.NoError(t, step.Apply(ctx))

	deployed, err := os.ReadFile(filepath.Join(cfg.AppDir, "static", "main.css"))
	require.NoError(t, err)
	assert.Equal(t, "body {}\n", string(deployed))

	satisfied, err = step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, satisfied, "unchanged release is converged")
}

func TestDeployReappliesWhenSourceChanges(t *testing.T) {
	cfg := testConfig(t)
	step := NewDeployStep(testLogger(), cfg)
	ctx := context.Background()

	require.NoError(t, step.Apply(ctx))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "app.py"), []byte("app = 2\n"), 0o644))

	satisfied, err := step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, satisfied)
}

// The copy runs as root, so every Apply must hand the tree back to the
// service account, including re-runs that bring new files.
func TestDeployConvergesOwnershipOnEveryApply(t *testing.T) {
	cfg := testConfig(t)
	step := NewDeployStep(testLogger(), cfg)
	ctx := context.Background()

	var chowned []string
	step.ChownWith(func(root string) error {
		chowned = append(chowned, root)
		return nil
	})

	require.NoError(t, step.Apply(ctx))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "new.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, step.Apply(ctx))

	assert.Equal(t, []string{cfg.AppDir, cfg.AppDir}, chowned)
}

func TestDeployFailsWhenOwnershipCannotConverge(t *testing.T) {
	cfg := testConfig(t)
	step := NewDeployStep(testLogger(), cfg)
	step.ChownWith(func(root string) error {
		return os.ErrPermission
	})

	err := step.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ownership")
}

func TestTreeHashIgnoresNothingAndOrders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	first, err := TreeHash(dir)
	require.NoError(t, err)
	second, err := TreeHash(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed"), 0o644))
	third, err := TreeHash(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestVenvStepCreatesEnvironmentAndInstalls(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "requirements.txt"), []byte("flask\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AppDir, "requirements.txt"), []byte("flask\n"), 0o644))

	rec := hostcmd.NewRecorder()
	step := NewVenvStep(rec, testLogger(), cfg)

	satisfied, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, satisfied)

	require.NoError(t, step.Apply(context.Background()))

	lines := strings.Join(rec.CommandLines(), "\n")
	venv := filepath.Join(cfg.AppDir, "venv")
	assert.Contains(t, lines, "python3 -m venv "+venv)
	assert.Contains(t, lines, filepath.Join(venv, "bin", "pip")+" install -q -r "+filepath.Join(cfg.AppDir, "requirements.txt"))
	assert.Contains(t, lines, "pip")
	assert.Contains(t, lines, "install -q gunicorn")
}

func TestVenvStepSatisfiedWhenInterpreterPresent(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.AppDir, "venv", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AppDir, "venv", "bin", "python"), []byte("#!"), 0o755))

	step := NewVenvStep(hostcmd.NewRecorder(), testLogger(), cfg)
	satisfied, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, satisfied)
}

func TestInitSchemaRunsAsServiceUserInAppDir(t *testing.T) {
	cfg := testConfig(t)
	rec := hostcmd.NewRecorder()
	step := NewInitSchemaStep(rec, testLogger(), cfg)

	require.NoError(t, step.Apply(context.Background()))

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sudo", calls[0].Name)
	assert.Equal(t, cfg.AppDir, calls[0].Dir)
	assert.Contains(t, calls[0].Args, "-u")
	assert.Contains(t, calls[0].Args, "whisker")
	assert.Contains(t, calls[0].Args, initSchemaSnippet)
}
