package nginx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskerauth/provisioner/hostcmd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() SiteConfig {
	return SiteConfig{
		SiteName:    "whisker-auth",
		ServerName:  "auth.example.com",
		APIPrefix:   "/api",
		BackendPort: 5000,
		StaticDir:   "/opt/whisker-auth/static",
	}
}

func TestRenderForwardsAPIPrefixToBackendPort(t *testing.T) {
	content, err := Render(testConfig())
	require.NoError(t, err)

	site := string(content)
	assert.Contains(t, site, "location /api {")
	assert.Contains(t, site, "proxy_pass http://127.0.0.1:5000;")
	assert.Contains(t, site, "server_name auth.example.com;")
	assert.Contains(t, site, "alias /opt/whisker-auth/static/;")
	assert.Contains(t, site, "expires 30d;")
}

func TestRenderRejectsIncompleteConfig(t *testing.T) {
	_, err := Render(SiteConfig{SiteName: "x"})
	assert.Error(t, err)
}

func testStep(t *testing.T, rec *hostcmd.Recorder) *Step {
	t.Helper()
	step := NewStep(rec, testLogger(), testConfig())
	step.availableDir = t.TempDir()
	step.enabledDir = t.TempDir()
	return step
}

func TestApplyDeploysAndEnablesSite(t *testing.T) {
	rec := hostcmd.NewRecorder()
	step := testStep(t, rec)

	require.NoError(t, step.Apply(context.Background()))

	deployed, err := os.ReadFile(filepath.Join(step.availableDir, "whisker-auth"))
	require.NoError(t, err)
	want, err := Render(testConfig())
	require.NoError(t, err)
	assert.Equal(t, want, deployed)

	target, err := os.Readlink(filepath.Join(step.enabledDir, "whisker-auth"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(step.availableDir, "whisker-auth"), target)

	assert.Contains(t, rec.CommandLines(), "nginx -t")
}

func TestApplyRemovesDefaultSite(t *testing.T) {
	rec := hostcmd.NewRecorder()
	step := testStep(t, rec)

	defaultSite := filepath.Join(step.enabledDir, "default")
	require.NoError(t, os.WriteFile(defaultSite, []byte("default"), 0o644))

	require.NoError(t, step.Apply(context.Background()))
	_, err := os.Stat(defaultSite)
	assert.True(t, os.IsNotExist(err))
}

func TestApplyFailsWhenValidationFails(t *testing.T) {
	rec := hostcmd.NewRecorder()
	rec.Respond("nginx -t", []byte("emerg: invalid directive"), fmt.Errorf("exit status 1"))
	step := testStep(t, rec)

	err := step.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nginx rejected generated configuration")
}

func TestCheckSatisfiedAfterApply(t *testing.T) {
	rec := hostcmd.NewRecorder()
	step := testStep(t, rec)

	satisfied, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, satisfied)

	require.NoError(t, step.Apply(context.Background()))

	satisfied, err = step.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, satisfied)
}
