package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/tradegate/customs-copilot/contrib/vector/inmemory"
	"github.com/tradegate/customs-copilot/domain"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/vector"
)

// axisEmbedder maps known texts to fixed unit vectors so similarity is exact.
type axisEmbedder struct {
	vectors map[string][]float32
}

func (e *axisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0}, nil
}

func (e *axisEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *axisEmbedder) Dimension() int { return 3 }

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}
func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}
func (failingEmbedder) Dimension() int { return 3 }

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	embedder := &axisEmbedder{vectors: map[string][]float32{
		"관세법 제50조 세율 적용":  {1, 0, 0},
		"관세법 제51조 덤핑방지관세": {0.8, 0.6, 0},
		"식물검역 요건":         {0, 1, 0},
	}}
	adapter, err := New(embedder,
		WithDomainStore(domain.Statute, inmemory.NewInMemoryVectorStore()),
		WithDomainStore(domain.Regulation, inmemory.NewInMemoryVectorStore()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = adapter.Upsert(context.Background(),
		Document{SourceID: "s-50", Domain: domain.Statute, Title: "관세법 제50조", Content: "관세법 제50조 세율 적용"},
		Document{SourceID: "s-51", Domain: domain.Statute, Title: "관세법 제51조", Content: "관세법 제51조 덤핑방지관세"},
		Document{SourceID: "r-1", Domain: domain.Regulation, Title: "검역 고시", Content: "식물검역 요건"},
	)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	return adapter
}

func TestSearchOrderedByScore(t *testing.T) {
	adapter := newTestAdapter(t)

	docs, err := adapter.Search(context.Background(), domain.Statute, "관세법 제50조 세율 적용", 5, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(docs))
	}
	if docs[0].SourceID != "s-50" {
		t.Errorf("expected exact match first, got %s", docs[0].SourceID)
	}
	if docs[0].Score < docs[1].Score {
		t.Errorf("hits not ordered by score: %.2f then %.2f", docs[0].Score, docs[1].Score)
	}
	if docs[0].Title != "관세법 제50조" {
		t.Errorf("expected title from metadata, got %q", docs[0].Title)
	}
}

func TestSearchThresholdFilters(t *testing.T) {
	adapter := newTestAdapter(t)

	docs, err := adapter.Search(context.Background(), domain.Statute, "관세법 제50조 세율 적용", 5, 0.95)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected threshold to keep only the exact match, got %d hits", len(docs))
	}
	if docs[0].SourceID != "s-50" {
		t.Errorf("unexpected survivor %s", docs[0].SourceID)
	}
}

func TestSearchDomainIsolation(t *testing.T) {
	adapter := newTestAdapter(t)

	docs, err := adapter.Search(context.Background(), domain.Regulation, "관세법 제50조 세율 적용", 5, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, doc := range docs {
		if doc.Domain != domain.Regulation {
			t.Errorf("cross-domain hit: %s from %s", doc.SourceID, doc.Domain)
		}
	}
}

func TestSearchUnknownDomain(t *testing.T) {
	adapter := newTestAdapter(t)

	_, err := adapter.Search(context.Background(), domain.Advisory, "질의", 5, 0)
	if err == nil {
		t.Fatal("expected error for unbound domain")
	}
	if !errors.Is(err, pkgerrors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	adapter, err := New(failingEmbedder{},
		WithDomainStore(domain.Statute, inmemory.NewInMemoryVectorStore()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = adapter.Search(context.Background(), domain.Statute, "관세법", 5, 0)
	if !errors.Is(err, pkgerrors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestUpsertReplacesDocument(t *testing.T) {
	adapter := newTestAdapter(t)

	err := adapter.Upsert(context.Background(), Document{
		SourceID: "s-50",
		Domain:   domain.Statute,
		Title:    "관세법 제50조 (개정)",
		Content:  "관세법 제50조 세율 적용",
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	docs, err := adapter.Search(context.Background(), domain.Statute, "관세법 제50조 세율 적용", 5, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	count := 0
	for _, doc := range docs {
		if doc.SourceID == "s-50" {
			count++
			if doc.Title != "관세법 제50조 (개정)" {
				t.Errorf("expected updated title, got %q", doc.Title)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one copy after replace, got %d", count)
	}
}

func TestUpsertStripsHTML(t *testing.T) {
	embedder := &axisEmbedder{vectors: map[string][]float32{}}
	store := inmemory.NewInMemoryVectorStore()
	adapter, err := New(embedder, WithDomainStore(domain.Advisory, store))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = adapter.Upsert(context.Background(), Document{
		SourceID: "a-1",
		Domain:   domain.Advisory,
		Content:  "<html><body><p>품목분류 결정 사례</p></body></html>",
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	emb, err := store.GetEmbedding(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if emb.Text != "품목분류 결정 사례" {
		t.Errorf("expected HTML stripped, got %q", emb.Text)
	}
}

func TestReadyReportsBoundDomains(t *testing.T) {
	adapter := newTestAdapter(t)

	status := adapter.Ready(context.Background())
	if !status[domain.Statute] || !status[domain.Regulation] {
		t.Errorf("expected bound domains ready, got %v", status)
	}
	if _, ok := status[domain.Advisory]; ok {
		t.Errorf("unbound domain should not be reported, got %v", status)
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	adapter := newTestAdapter(t)

	if err := adapter.Delete(context.Background(), domain.Statute, "s-50"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	docs, err := adapter.Search(context.Background(), domain.Statute, "관세법 제50조 세율 적용", 5, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, doc := range docs {
		if doc.SourceID == "s-50" {
			t.Error("deleted document still returned")
		}
	}
}

func TestClampScore(t *testing.T) {
	if got := vector.ClampScore(1.2); got != 1 {
		t.Errorf("ClampScore(1.2) = %v", got)
	}
	if got := vector.ClampScore(-0.3); got != 0 {
		t.Errorf("ClampScore(-0.3) = %v", got)
	}
}
