package engine

import (
	"sort"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// Classification is the state of one resource relative to a snapshot.
type Classification string

const (
	New        Classification = "new"
	Modified   Classification = "modified"
	Removed    Classification = "removed"
	Unmodified Classification = "unmodified"
)

// ClassificationMap is the result of diffing the current graph against a snapshot.
// ByNode only holds ids present in the current graph; removed ids live in Removed.
type ClassificationMap struct {
	ByNode  map[string]Classification
	Removed []string
	Summary DiffSummary
}

type DiffSummary struct {
	New        int
	Modified   int
	Removed    int
	Unmodified int
}

// Of returns the classification for id. Ids in neither the graph nor the
// removed set report "".
func (c *ClassificationMap) Of(id string) Classification {
	if c == nil {
		return ""
	}
	if cls, ok := c.ByNode[id]; ok {
		return cls
	}
	i := sort.SearchStrings(c.Removed, id)
	if i < len(c.Removed) && c.Removed[i] == id {
		return Removed
	}
	return ""
}

// IDs returns every id with the given classification, sorted.
func (c *ClassificationMap) IDs(cls Classification) []string {
	if c == nil {
		return nil
	}
	if cls == Removed {
		return append([]string(nil), c.Removed...)
	}
	var out []string
	for id, got := range c.ByNode {
		if got == cls {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Diff classifies every id in the union of the graph and the snapshot. The graph's
// fingerprints must already be computed (see FingerprintGraph).
func Diff(g *Graph, snapshot *ir.Snapshot) (*ClassificationMap, error) {
	if snapshot == nil {
		return nil, &StateUnavailableError{Path: "<nil snapshot>"}
	}
	logging.Debug("diffing graph against snapshot", "nodes", g.Len(), "snapshot_nodes", len(snapshot.Nodes))

	result := &ClassificationMap{
		ByNode: make(map[string]Classification, g.Len()),
	}

	for _, id := range g.Order() {
		res := g.Resource(id)
		prior := snapshot.Node(id)
		switch {
		case prior == nil:
			result.ByNode[id] = New
			result.Summary.New++
		case prior.Fingerprint != res.Fingerprint:
			result.ByNode[id] = Modified
			result.Summary.Modified++
		default:
			result.ByNode[id] = Unmodified
			result.Summary.Unmodified++
		}
	}

	for id := range snapshot.Nodes {
		if !g.Has(id) {
			result.Removed = append(result.Removed, id)
			result.Summary.Removed++
		}
	}
	sort.Strings(result.Removed)

	return result, nil
}
