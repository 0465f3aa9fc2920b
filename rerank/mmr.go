package rerank

import (
	"context"
	"math"

	"github.com/tradegate/customs-copilot/docstore"
)

// MMR applies Max Marginal Relevance to reduce redundancy among retrieved
// documents: statute articles and advisory cases often repeat each other
// almost verbatim, and a diverse top-K gives the synthesis step more to
// cite. Similarity between candidates is term-set Jaccard over excerpts.
type MMR struct {
	Lambda float64
	Limit  int
}

// NewMMR returns an MMR reranker with the stock relevance/diversity blend.
func NewMMR() *MMR {
	return &MMR{
		Lambda: 0.7,
		Limit:  8,
	}
}

// Rank implements Reranker.
func (m *MMR) Rank(_ context.Context, _ string, candidates []docstore.RetrievedDocument) ([]docstore.RetrievedDocument, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	type item struct {
		doc   docstore.RetrievedDocument
		terms map[string]struct{}
		rank  int
	}
	remaining := make([]item, len(candidates))
	for i, cand := range candidates {
		remaining[i] = item{doc: cand, terms: termSet(cand.Excerpt), rank: i}
	}

	selected := make([]docstore.RetrievedDocument, 0, len(candidates))
	picked := make([]map[string]struct{}, 0, len(candidates))
	for len(remaining) > 0 && (m.Limit <= 0 || len(selected) < m.Limit) {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for idx, cand := range remaining {
			penalty := 0.0
			for _, prev := range picked {
				if sim := jaccard(cand.terms, prev); sim > penalty {
					penalty = sim
				}
			}
			score := m.Lambda*cand.doc.Score - (1-m.Lambda)*penalty
			if score > bestScore || (score == bestScore && bestIdx >= 0 && cand.rank < remaining[bestIdx].rank) {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx == -1 {
			break
		}
		best := remaining[bestIdx]
		selected = append(selected, best.doc)
		picked = append(picked, best.terms)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, nil
}

func termSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, term := range tokenize(text) {
		out[term] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for term := range small {
		if _, ok := large[term]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
