package ir

// SnapshotSchemaVersion is bumped whenever the on-disk snapshot layout changes.
const SnapshotSchemaVersion = 1

// Snapshot is the persisted graph metadata of a prior invocation.
type Snapshot struct {
	Metadata SnapshotMetadata         `json:"metadata"`
	Nodes    map[string]*SnapshotNode `json:"nodes"`
}

type SnapshotMetadata struct {
	SchemaVersion int    `json:"schema_version"`
	InvocationID  string `json:"invocation_id"`
	GeneratedAt   string `json:"generated_at"`
	Project       string `json:"project"`
	Target        string `json:"target"`
}

type SnapshotNode struct {
	UniqueID    string    `json:"unique_id"`
	Kind        Kind      `json:"resource_type"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	Relation    *Relation `json:"relation,omitempty"`
	DependsOn   []string  `json:"depends_on,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Node returns the snapshot node for id, or nil.
func (s *Snapshot) Node(id string) *SnapshotNode {
	if s == nil || s.Nodes == nil {
		return nil
	}
	return s.Nodes[id]
}
