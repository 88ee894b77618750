package task

import (
	"strings"
	"time"

	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/resolve"
)

// SnapshotOf describes the graph as it exists in target after a run. A node
// records a relation only when that relation is known to exist: sources always,
// models and seeds when results show a successful build, otherwise the relation
// carried over from prior when prior describes the same target. References that
// were deferred during the run are never recorded.
func SnapshotOf(g *engine.Graph, target *ir.Target, results *ir.RunResults, prior *ir.Snapshot) *ir.Snapshot {
	snap := &ir.Snapshot{
		Metadata: ir.SnapshotMetadata{
			SchemaVersion: ir.SnapshotSchemaVersion,
			GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		},
		Nodes: make(map[string]*ir.SnapshotNode, g.Len()),
	}
	if target != nil {
		snap.Metadata.Target = target.Name
	}
	if results != nil {
		snap.Metadata.InvocationID = results.InvocationID
	}
	prior = sameTarget(prior, target)

	for _, res := range g.Resources() {
		node := &ir.SnapshotNode{
			UniqueID:    res.UniqueID,
			Kind:        res.Kind,
			Name:        res.Name,
			Fingerprint: res.Fingerprint,
			DependsOn:   append([]string(nil), g.Dependencies(res.UniqueID)...),
			Tags:        append([]string(nil), res.Tags...),
		}
		if hasRelation(res) {
			node.Relation = existingRelation(res, target, results, prior)
		}
		snap.Nodes[res.UniqueID] = node
	}
	return snap
}

func existingRelation(res *ir.Resource, target *ir.Target, results *ir.RunResults, prior *ir.Snapshot) *ir.Relation {
	if res.Kind == ir.KindSource {
		rel := resolve.RelationFor(res, target)
		return &rel
	}
	if built := results.Get(res.UniqueID); built != nil && built.Status == ir.StatusSuccess {
		rel := resolve.RelationFor(res, target)
		return &rel
	}
	if old := prior.Node(res.UniqueID); old != nil && old.Relation != nil {
		rel := *old.Relation
		return &rel
	}
	return nil
}

// sameTarget returns snap when it was written for target, nil otherwise.
func sameTarget(snap *ir.Snapshot, target *ir.Target) *ir.Snapshot {
	if snap == nil || target == nil || snap.Metadata.Target != target.Name {
		return nil
	}
	return snap
}

// hasRelation reports whether res exists as a relation in the warehouse.
func hasRelation(res *ir.Resource) bool {
	switch res.Kind {
	case ir.KindSource, ir.KindSeed:
		return true
	case ir.KindModel:
		return !strings.EqualFold(res.ConfigValue("materialized"), adapter.MaterializedEphemeral)
	}
	return false
}
