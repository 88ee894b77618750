// Package state persists run snapshots locally or in S3.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// ManifestFile is the snapshot file name used when a directory is given.
const ManifestFile = "manifest.json"

// Manager reads and writes a snapshot on the local filesystem.
type Manager struct {
	path   string
	sealer *Sealer
}

// NewManager returns a local store. location may name the snapshot file or a
// directory holding manifest.json.
func NewManager(location string) *Manager {
	return &Manager{
		path:   ResolvePath(location),
		sealer: SealerFromEnv(),
	}
}

// ResolvePath maps a --state argument to the snapshot file it names.
func ResolvePath(location string) string {
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		return filepath.Join(location, ManifestFile)
	}
	if filepath.Ext(location) == "" {
		return filepath.Join(location, ManifestFile)
	}
	return location
}

// Location returns the snapshot file path.
func (m *Manager) Location() string {
	return m.path
}

// Read loads the snapshot. A missing, unreadable or corrupt file is reported as
// StateUnavailableError. Encrypted files are decrypted transparently.
func (m *Manager) Read(ctx context.Context) (*ir.Snapshot, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, &engine.StateUnavailableError{Path: m.path, Err: err}
	}

	content, err := m.sealer.Open(raw)
	if err != nil {
		return nil, &engine.StateUnavailableError{Path: m.path, Err: err}
	}

	snap, err := Decode(content)
	if err != nil {
		return nil, &engine.StateUnavailableError{Path: m.path, Err: err}
	}
	logging.Debug("snapshot loaded", "path", m.path, "nodes", len(snap.Nodes))
	return snap, nil
}

// Write saves the snapshot, encrypting it when STRATA_STATE_ENCRYPTION_KEY is set.
// The file is replaced atomically.
func (m *Manager) Write(ctx context.Context, snap *ir.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := Encode(snap)
	if err != nil {
		return err
	}
	sealed, err := m.sealer.Seal(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", m.path, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errors.Join(fmt.Errorf("failed to replace snapshot %s: %w", m.path, err), os.Remove(tmp))
	}
	logging.Debug("snapshot written", "path", m.path, "nodes", len(snap.Nodes))
	return nil
}
