package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"github.com/picklr-io/strata/internal/ir"
)

// Fingerprint hashes a resource's own definition together with the fingerprints of its
// direct dependencies, so a change anywhere upstream changes every downstream hash.
//
// Every field is length-prefixed; maps and sets are written in sorted order. The result
// depends only on its inputs.
func Fingerprint(res *ir.Resource, upstream map[string]string) string {
	h := sha256.New()

	writeField(h, []byte(res.Kind))
	writeField(h, []byte(res.UniqueID))
	writeField(h, []byte(res.Raw))

	keys := make([]string, 0, len(res.Config))
	for k := range res.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, []byte(k))
		writeField(h, []byte(res.Config[k]))
	}

	tags := append([]string(nil), res.Tags...)
	sort.Strings(tags)
	writeCount(h, len(tags))
	for _, t := range tags {
		writeField(h, []byte(t))
	}

	if res.Relation != nil {
		writeField(h, []byte(res.Relation.String()))
	} else {
		writeField(h, nil)
	}

	deps := append([]string(nil), res.DependsOn...)
	sort.Strings(deps)
	writeCount(h, len(deps))
	for _, dep := range deps {
		writeField(h, []byte(dep))
		writeField(h, []byte(upstream[dep]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintGraph computes fingerprints in dependency order and stores them on each
// resource. It returns the id -> fingerprint map.
func FingerprintGraph(g *Graph) (map[string]string, error) {
	if len(g.order) != len(g.nodes) {
		_, err := g.topoSort()
		if err == nil {
			err = &CycleError{}
		}
		return nil, err
	}

	prints := make(map[string]string, len(g.nodes))
	for _, id := range g.order {
		res := g.nodes[id].res
		res.Fingerprint = Fingerprint(res, prints)
		prints[id] = res.Fingerprint
	}
	return prints, nil
}

func writeField(h hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(n))
	h.Write(count[:])
}
