package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file may get before it is taken over.
const staleLockAge = 10 * time.Minute

// ErrLocked is returned when another process holds the snapshot lock.
var ErrLocked = errors.New("snapshot is locked by another process")

// Lock creates a lock file beside the snapshot. A lock older than ten minutes is
// considered stale and replaced.
func (m *Manager) Lock(ctx context.Context) error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > staleLockAge {
		os.Remove(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w (lock file: %s). If this is an error, remove the lock file manually", ErrLocked, lockPath)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Unlock removes the lock file.
func (m *Manager) Unlock(ctx context.Context) error {
	if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}
