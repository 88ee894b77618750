package engine

import (
	"errors"
	"testing"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotOf(g *Graph) *ir.Snapshot {
	snap := &ir.Snapshot{Nodes: make(map[string]*ir.SnapshotNode)}
	for _, res := range g.Resources() {
		snap.Nodes[res.UniqueID] = &ir.SnapshotNode{
			UniqueID:    res.UniqueID,
			Kind:        res.Kind,
			Name:        res.Name,
			Fingerprint: res.Fingerprint,
			DependsOn:   res.DependsOn,
		}
	}
	return snap
}

func TestDiff_Classifies(t *testing.T) {
	prior := mustGraph(model("a"), model("b", id("a")), model("gone"), model("same"))
	snap := snapshotOf(prior)

	changedA := model("a")
	changedA.Raw = "select 42 as a"
	current := mustGraph(changedA, model("b", id("a")), model("fresh"), model("same"))

	cls, err := Diff(current, snap)
	require.NoError(t, err)

	assert.Equal(t, Modified, cls.Of(id("a")))
	assert.Equal(t, Modified, cls.Of(id("b")), "text untouched, upstream changed")
	assert.Equal(t, New, cls.Of(id("fresh")))
	assert.Equal(t, Unmodified, cls.Of(id("same")))
	assert.Equal(t, Removed, cls.Of(id("gone")))

	assert.Equal(t, []string{id("gone")}, cls.Removed)
	_, inByNode := cls.ByNode[id("gone")]
	assert.False(t, inByNode, "removed ids never appear in the per-node view")

	assert.Equal(t, DiffSummary{New: 1, Modified: 2, Removed: 1, Unmodified: 1}, cls.Summary)
	assert.Equal(t, []string{id("a"), id("b")}, cls.IDs(Modified))
}

func TestDiff_EveryIDClassifiedOnce(t *testing.T) {
	prior := mustGraph(model("a"), model("b"), model("c"))
	current := mustGraph(model("b"), model("c", id("b")), model("d"))

	cls, err := Diff(current, snapshotOf(prior))
	require.NoError(t, err)

	seen := map[string]int{}
	for id := range cls.ByNode {
		seen[id]++
	}
	for _, id := range cls.Removed {
		seen[id]++
	}
	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestDiff_Idempotent(t *testing.T) {
	g := mustGraph(model("a"), model("b", id("a")))
	snap := snapshotOf(g)

	first, err := Diff(g, snap)
	require.NoError(t, err)
	second, err := Diff(mustGraph(model("a"), model("b", id("a"))), snap)
	require.NoError(t, err)

	assert.Equal(t, first.ByNode, second.ByNode)
	assert.Equal(t, 2, first.Summary.Unmodified)
	assert.Equal(t, snap, snapshotOf(g))
}

func TestDiff_NilSnapshot(t *testing.T) {
	_, err := Diff(mustGraph(model("a")), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateUnavailable))
}
