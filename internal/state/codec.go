package state

import (
	"encoding/json"
	"fmt"

	"github.com/picklr-io/strata/internal/ir"
)

// Encode serializes a snapshot as indented JSON. Nodes are emitted sorted by id.
func Encode(snap *ir.Snapshot) ([]byte, error) {
	out := *snap
	if out.Metadata.SchemaVersion == 0 {
		out.Metadata.SchemaVersion = ir.SnapshotSchemaVersion
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot written by Encode.
func Decode(data []byte) (*ir.Snapshot, error) {
	var snap ir.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Metadata.SchemaVersion > ir.SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d is newer than supported version %d",
			snap.Metadata.SchemaVersion, ir.SnapshotSchemaVersion)
	}
	if snap.Nodes == nil {
		snap.Nodes = make(map[string]*ir.SnapshotNode)
	}
	for id, node := range snap.Nodes {
		if node == nil {
			return nil, fmt.Errorf("snapshot node %s is empty", id)
		}
		if node.UniqueID == "" {
			node.UniqueID = id
		}
	}
	return &snap, nil
}
