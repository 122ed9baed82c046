package systemd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/whiskerauth/provisioner/hostcmd"
)

// DBusAPI is the subset of the systemd D-Bus connection the manager uses.
// Tests substitute a stub.
type DBusAPI interface {
	Close()
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []dbus.EnableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ReloadOrRestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
}

// NewDBusAPI connects to the system bus. Overridable for tests.
var NewDBusAPI = func(ctx context.Context) (DBusAPI, error) {
	return dbus.NewSystemConnectionContext(ctx)
}

// Manager installs unit files and controls services through systemd.
type Manager struct {
	log     *slog.Logger
	runner  hostcmd.Runner
	newDBus func(ctx context.Context) (DBusAPI, error)

	// unitDir is overridable in tests.
	unitDir string
}

// NewManager creates a systemd manager. The runner is only used for
// journal access; unit control goes over D-Bus.
func NewManager(log *slog.Logger, runner hostcmd.Runner) *Manager {
	return &Manager{
		log:     log,
		runner:  runner,
		newDBus: NewDBusAPI,
		unitDir: EtcSystemdDir,
	}
}

// WriteUnit installs the rendered unit file. Returns true when the on-disk
// unit changed.
func (m *Manager) WriteUnit(cfg UnitConfig) (bool, error) {
	content, err := RenderUnit(cfg)
	if err != nil {
		return false, err
	}

	path := filepath.Join(m.unitDir, cfg.UnitFileName())
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("could not write unit file: %w", err)
	}
	m.log.Info("Installed unit file", "path", path)
	return true, nil
}

// DaemonReload asks systemd to re-read unit files.
func (m *Manager) DaemonReload(ctx context.Context) error {
	conn, err := m.newDBus(ctx)
	if err != nil {
		return fmt.Errorf("could not connect to systemd: %w", err)
	}
	defer conn.Close()
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload failed: %w", err)
	}
	return nil
}

// EnableAndStart enables the unit for boot and starts (or restarts) it,
// waiting for the job to complete.
func (m *Manager) EnableAndStart(ctx context.Context, unit string) error {
	conn, err := m.newDBus(ctx)
	if err != nil {
		return fmt.Errorf("could not connect to systemd: %w", err)
	}
	defer conn.Close()

	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unit}, false, true); err != nil {
		return fmt.Errorf("could not enable %s: %w", unit, err)
	}

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("could not start %s: %w", unit, err)
	}

	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("start job for %s finished with %q", unit, result)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Reload asks a running unit to reload its configuration, starting it if it
// is not running.
func (m *Manager) Reload(ctx context.Context, unit string) error {
	conn, err := m.newDBus(ctx)
	if err != nil {
		return fmt.Errorf("could not connect to systemd: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.ReloadOrRestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("could not reload %s: %w", unit, err)
	}

	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("reload job for %s finished with %q", unit, result)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ActiveState reports the unit's active state ("active", "failed", ...).
func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	conn, err := m.newDBus(ctx)
	if err != nil {
		return "", fmt.Errorf("could not connect to systemd: %w", err)
	}
	defer conn.Close()

	statuses, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return "", fmt.Errorf("could not query %s: %w", unit, err)
	}
	for _, status := range statuses {
		if status.Name == unit {
			return status.ActiveState, nil
		}
	}
	return "", fmt.Errorf("unit %s not known to systemd", unit)
}

// JournalTail returns the last n journal lines for a unit, for the
// diagnostic dump when a service fails to come up.
func (m *Manager) JournalTail(ctx context.Context, unit string, n int) string {
	out, err := m.runner.Output(ctx, "journalctl", "-u", unit, "-n", strconv.Itoa(n), "--no-pager")
	if err != nil {
		return fmt.Sprintf("journal unavailable: %v", err)
	}
	return strings.TrimSpace(string(out))
}
