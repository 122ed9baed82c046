package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
)

// stubDBus fakes the systemd connection, recording the operations performed
// against it.
type stubDBus struct {
	reloads     int
	enabled     []string
	restarted   []string
	reloaded    []string
	activeState string
	jobResult   string

	enableErr  error
	restartErr error
	listErr    error
}

func newStubDBus() *stubDBus {
	return &stubDBus{activeState: "active", jobResult: "done"}
}

func (s *stubDBus) connect(ctx context.Context) (DBusAPI, error) {
	return s, nil
}

func (s *stubDBus) Close() {}

func (s *stubDBus) ReloadContext(ctx context.Context) error {
	s.reloads++
	return nil
}

func (s *stubDBus) EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []dbus.EnableUnitFileChange, error) {
	s.enabled = append(s.enabled, files...)
	return true, nil, s.enableErr
}

func (s *stubDBus) StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	if s.restartErr != nil {
		return 0, s.restartErr
	}
	s.restarted = append(s.restarted, name)
	ch <- s.jobResult
	return 1, nil
}

func (s *stubDBus) RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	return s.StartUnitContext(ctx, name, mode, ch)
}

func (s *stubDBus) ReloadOrRestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	if s.restartErr != nil {
		return 0, s.restartErr
	}
	s.reloaded = append(s.reloaded, name)
	ch <- s.jobResult
	return 1, nil
}

func (s *stubDBus) ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	statuses := make([]dbus.UnitStatus, 0, len(units))
	for _, u := range units {
		statuses = append(statuses, dbus.UnitStatus{Name: u, ActiveState: s.activeState})
	}
	return statuses, nil
}
