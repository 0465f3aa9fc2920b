package rerank

import (
	"context"
	"testing"

	"github.com/tradegate/customs-copilot/docstore"
)

func TestMMRPicksHighestScoreFirst(t *testing.T) {
	candidates := []docstore.RetrievedDocument{
		{SourceID: "a", Excerpt: "세율 적용 우선순위", Score: 0.9},
		{SourceID: "b", Excerpt: "덤핑방지관세 부과", Score: 0.6},
	}

	out, err := NewMMR().Rank(context.Background(), "세율", candidates)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if out[0].SourceID != "a" {
		t.Errorf("expected highest score first, got %s", out[0].SourceID)
	}
}

func TestMMRPenalizesNearDuplicates(t *testing.T) {
	candidates := []docstore.RetrievedDocument{
		{SourceID: "a", Excerpt: "관세법 제50조 세율 적용 우선순위", Score: 0.90},
		{SourceID: "dup", Excerpt: "관세법 제50조 세율 적용 우선순위", Score: 0.89},
		{SourceID: "c", Excerpt: "품목분류 결정 사례", Score: 0.60},
	}

	out, err := NewMMR().Rank(context.Background(), "세율", candidates)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	// The exact duplicate drops behind the diverse candidate:
	// 0.7*0.89 - 0.3*1.0 = 0.323 < 0.7*0.60 = 0.42.
	if out[1].SourceID != "c" {
		t.Errorf("expected diverse candidate second, got %s", out[1].SourceID)
	}
	if out[2].SourceID != "dup" {
		t.Errorf("expected duplicate demoted last, got %s", out[2].SourceID)
	}
}

func TestMMRLimitCapsResults(t *testing.T) {
	candidates := []docstore.RetrievedDocument{
		{SourceID: "a", Excerpt: "가", Score: 0.9},
		{SourceID: "b", Excerpt: "나", Score: 0.8},
		{SourceID: "c", Excerpt: "다", Score: 0.7},
	}

	m := NewMMR()
	m.Limit = 2
	out, err := m.Rank(context.Background(), "질의", candidates)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected limit of 2, got %d", len(out))
	}
}

func TestMMREmptyCandidates(t *testing.T) {
	out, err := NewMMR().Rank(context.Background(), "질의", nil)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}
