package search

import "sort"

// rrfK is the standard Reciprocal Rank Fusion dampening constant.
const rrfK = 60.0

// ScoredID pairs a database row ID with a fused search score and document type.
type ScoredID struct {
	DocType string // "observation", "session", "prompt"
	Score   float64
	ID      int64
}

// rrfContribution is one list entry's share: the reciprocal rank times
// the list weight, plus a small fixed bonus for landing near the top.
func rrfContribution(rank int, weight float64) float64 {
	score := weight / (rrfK + float64(rank) + 1)
	switch {
	case rank == 0:
		score += 0.05
	case rank <= 2:
		score += 0.02
	}
	return score
}

// RRF fuses multiple ranked lists using Reciprocal Rank Fusion (k=60).
// Each input list must be sorted best-first.
//
// The first two lists count double; documents in the top three of any
// list earn a small bonus on top of their reciprocal rank. Entries for
// the same (ID, DocType) pair accumulate across lists. Results come
// back sorted by fused score descending; ties keep first-seen order.
func RRF(lists ...[]ScoredID) []ScoredID {
	type docKey struct {
		docType string
		id      int64
	}

	index := make(map[docKey]int)
	fused := make([]ScoredID, 0)

	for listIdx, list := range lists {
		// Primary signals ride in the first two slots.
		weight := 1.0
		if listIdx < 2 {
			weight = 2.0
		}
		for rank, item := range list {
			k := docKey{docType: item.DocType, id: item.ID}
			pos, seen := index[k]
			if !seen {
				pos = len(fused)
				index[k] = pos
				fused = append(fused, ScoredID{ID: item.ID, DocType: item.DocType})
			}
			fused[pos].Score += rrfContribution(rank, weight)
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}
