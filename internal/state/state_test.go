package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *ir.Snapshot {
	return &ir.Snapshot{
		Metadata: ir.SnapshotMetadata{InvocationID: "inv-1", Project: "shop", Target: "prod"},
		Nodes: map[string]*ir.SnapshotNode{
			"model.shop.orders": {
				UniqueID:    "model.shop.orders",
				Kind:        ir.KindModel,
				Name:        "orders",
				Fingerprint: "abc123",
				Relation:    &ir.Relation{Database: "dw", Schema: "prod", Identifier: "orders"},
				DependsOn:   []string{"source.shop.raw_orders"},
			},
			"source.shop.raw_orders": {
				UniqueID: "source.shop.raw_orders",
				Kind:     ir.KindSource,
				Name:     "raw_orders",
			},
		},
	}
}

func TestManager_ReadWrite(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	dir := t.TempDir()
	mgr := NewManager(filepath.Join(dir, "state"))
	ctx := context.Background()

	assert.Equal(t, filepath.Join(dir, "state", ManifestFile), mgr.Location())

	_, err := mgr.Read(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrStateUnavailable))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, mgr.Write(ctx, testSnapshot()))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.SnapshotSchemaVersion, got.Metadata.SchemaVersion)
	assert.Equal(t, "prod", got.Metadata.Target)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "abc123", got.Node("model.shop.orders").Fingerprint)
	assert.Equal(t, "orders", got.Node("model.shop.orders").Relation.Identifier)

	content, err := os.ReadFile(mgr.Location())
	require.NoError(t, err)
	assert.Contains(t, string(content), `"fingerprint": "abc123"`)
}

func TestManager_DirectoryLocation(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, ManifestFile), ResolvePath(dir))
	assert.Equal(t, filepath.Join(dir, "prod.json"), ResolvePath(filepath.Join(dir, "prod.json")))
}

func TestManager_CorruptSnapshot(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	path := filepath.Join(t.TempDir(), ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewManager(path).Read(context.Background())
	require.Error(t, err)

	var sue *engine.StateUnavailableError
	require.True(t, errors.As(err, &sue))
	assert.Equal(t, path, sue.Path)
}

func TestManager_NewerSchemaRejected(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	path := filepath.Join(t.TempDir(), ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"metadata":{"schema_version":99},"nodes":{}}`), 0644))

	_, err := NewManager(path).Read(context.Background())
	assert.True(t, errors.Is(err, engine.ErrStateUnavailable))
}

func TestManager_EncryptedRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "test-secret")
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	require.NoError(t, mgr.Write(ctx, testSnapshot()))

	raw, err := os.ReadFile(mgr.Location())
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestManager_Lock(t *testing.T) {
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	require.NoError(t, mgr.Lock(ctx))
	err := mgr.Lock(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, mgr.Unlock(ctx))
	require.NoError(t, mgr.Lock(ctx))
	require.NoError(t, mgr.Unlock(ctx))
	require.NoError(t, mgr.Unlock(ctx), "unlocking twice is harmless")
}

func TestDecode_FillsIDs(t *testing.T) {
	snap, err := Decode([]byte(`{"nodes":{"model.a.b":{"name":"b"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "model.a.b", snap.Node("model.a.b").UniqueID)

	_, err = Decode([]byte(`{"nodes":{"model.a.b":null}}`))
	assert.Error(t, err)
}
