package vectorstore

import "sort"

// RRFConstant is the reciprocal-rank-fusion smoothing constant (spec
// §12 Open Question: RRF over weighted-score combination, k=60),
// grounded on the teacher's internal/search.DefaultRRFConstant.
const RRFConstant = 60

// RankedHit is one entry in a single-vector ranked list, prior to fusion.
type RankedHit struct {
	ID    string
	Score float32
}

// FuseRRF combines one or more ranked hit lists for the same chunk_id
// space into a single ranked list using reciprocal rank fusion:
// score(id) = sum over lists containing id of 1/(k+rank). Lists are
// assumed already sorted descending by their own score. The in-memory
// backend uses it for "hybrid" Store.Search calls; the Qdrant backend
// requests RRF fusion from the server instead.
func FuseRRF(lists ...[]RankedHit) map[string]float32 {
	fused := make(map[string]float32)
	for _, list := range lists {
		for rank, hit := range list {
			fused[hit.ID] += 1.0 / float32(RRFConstant+rank+1)
		}
	}
	return fused
}

// SortHitsDescending sorts hits by score descending, breaking ties by id
// for determinism.
func SortHitsDescending(hits []RankedHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
