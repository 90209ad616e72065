package search

import (
	"sort"

	"github.com/quarrylabs/quarry/internal/store"
)

// fusedHit is one candidate after reciprocal rank fusion.
type fusedHit struct {
	id     string
	dense  float64 // dense leg score, 0 when the doc was dense-absent
	sparse float64 // sparse leg score, 0 when the doc was sparse-absent
	fused  float64
	seen   int // first-seen order, dense list before sparse list
}

// fuse merges the two ranked lists with reciprocal rank fusion:
//
//	score(doc) = sum over lists containing doc of 1/(k + rank)
//
// with 1-based ranks. A document absent from a list contributes nothing for
// that list. Ties break by first-seen order, with the dense list enumerated
// first.
func fuse(dense []*store.VectorResult, sparse []*store.SparseResult, k int) []*fusedHit {
	hits := make(map[string]*fusedHit, len(dense)+len(sparse))
	seen := 0

	get := func(id string) *fusedHit {
		h, ok := hits[id]
		if !ok {
			h = &fusedHit{id: id, seen: seen}
			seen++
			hits[id] = h
		}
		return h
	}

	for rank, res := range dense {
		h := get(res.ID)
		h.dense = float64(res.Score)
		h.fused += 1.0 / float64(k+rank+1)
	}
	for rank, res := range sparse {
		h := get(res.DocID)
		h.sparse = res.Score
		h.fused += 1.0 / float64(k+rank+1)
	}

	fused := make([]*fusedHit, 0, len(hits))
	for _, h := range hits {
		fused = append(fused, h)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].fused != fused[j].fused {
			return fused[i].fused > fused[j].fused
		}
		return fused[i].seen < fused[j].seen
	})
	return fused
}
