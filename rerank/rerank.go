package rerank

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/tradegate/customs-copilot/docstore"
)

// Reranker reorders retrieval candidates using a secondary signal on top of
// vector similarity.
type Reranker interface {
	Rank(ctx context.Context, query string, candidates []docstore.RetrievedDocument) ([]docstore.RetrievedDocument, error)
}

// Noop keeps the store ordering untouched.
type Noop struct{}

// Rank implements Reranker.
func (Noop) Rank(_ context.Context, _ string, candidates []docstore.RetrievedDocument) ([]docstore.RetrievedDocument, error) {
	return candidates, nil
}

// Keyword boosts candidates whose text overlaps the query terms. The blended
// score stays in [0,1] because both components are in [0,1] and the weights
// sum to one.
type Keyword struct {
	VectorWeight  float64
	KeywordWeight float64
}

// NewKeyword returns a keyword-overlap reranker with the stock 0.7/0.3 blend.
func NewKeyword() *Keyword {
	return &Keyword{
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
	}
}

// Rank implements Reranker.
func (k *Keyword) Rank(_ context.Context, query string, candidates []docstore.RetrievedDocument) ([]docstore.RetrievedDocument, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	terms := unique(tokenize(query))

	type scored struct {
		doc   docstore.RetrievedDocument
		score float64
		rank  int
	}

	out := make([]scored, len(candidates))
	for i, cand := range candidates {
		overlap := termOverlap(terms, cand.Excerpt)
		blended := k.VectorWeight*cand.Score + k.KeywordWeight*overlap
		doc := cand
		doc.Score = blended
		out[i] = scored{doc: doc, score: blended, rank: i}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].rank < out[j].rank
	})

	result := make([]docstore.RetrievedDocument, len(out))
	for i, sc := range out {
		result[i] = sc.doc
	}
	return result, nil
}

// termOverlap is the fraction of query terms present in the candidate text.
func termOverlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	body := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(body, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

var termRegex = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+`)

func tokenize(content string) []string {
	return termRegex.FindAllString(strings.ToLower(content), -1)
}

func unique(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
