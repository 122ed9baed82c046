package provision

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// HostLock serializes provisioning runs across processes. The steps mutate
// the package database, the firewall and the service registry, and two
// interleaved runs would race each other on all of them.
type HostLock struct {
	fl *flock.Flock
}

// AcquireHostLock takes the provisioning lock under stateDir without
// blocking. Returns ErrLocked when another run holds it.
func AcquireHostLock(stateDir string) (*HostLock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}

	fl := flock.New(filepath.Join(stateDir, "provision.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("could not acquire provisioning lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return &HostLock{fl: fl}, nil
}

// Release drops the lock. Safe to call once the run is finished.
func (l *HostLock) Release() error {
	return l.fl.Unlock()
}
