package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tradegate/customs-copilot/domain"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/pkg/logging"
	"github.com/tradegate/customs-copilot/preprocess"
	"github.com/tradegate/customs-copilot/vector"
)

// Document is the unit the (external) ingestion pipeline feeds into a domain
// collection.
type Document struct {
	SourceID string
	Domain   domain.Domain
	Title    string
	Content  string
	Metadata map[string]any
}

// RetrievedDocument is a transient search hit: produced here, consumed by the
// merge step, and ultimately embedded into the assistant message as a citation.
type RetrievedDocument struct {
	SourceID string
	Domain   domain.Domain
	Title    string
	Excerpt  string
	Score    float64
	Metadata map[string]any
}

// Searcher is the read-side contract agents depend on.
type Searcher interface {
	Search(ctx context.Context, d domain.Domain, query string, topK int, scoreThreshold float64) ([]RetrievedDocument, error)
}

// Pinger is implemented by backends that support liveness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Adapter provides a uniform interface over one similarity-search collection
// per knowledge domain. Callers never see the underlying storage technology.
type Adapter struct {
	stores   map[domain.Domain]vector.VectorStore
	embedder vector.Embedder
	logger   *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDomainStore binds a vector store to a knowledge domain.
func WithDomainStore(d domain.Domain, store vector.VectorStore) Option {
	return func(a *Adapter) {
		if store != nil {
			a.stores[d] = store
		}
	}
}

// WithLogger overrides the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates a document store adapter.
func New(embedder vector.Embedder, opts ...Option) (*Adapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	a := &Adapter{
		stores:   make(map[domain.Domain]vector.VectorStore),
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.WithComponent("docstore")
	}
	return a, nil
}

// Search returns the topK most similar documents in the given domain, highest
// similarity first with stable ties, dropping hits below scoreThreshold.
// Backend failures surface as ErrStoreUnavailable so agents can degrade.
func (a *Adapter) Search(ctx context.Context, d domain.Domain, query string, topK int, scoreThreshold float64) ([]RetrievedDocument, error) {
	store, ok := a.stores[d]
	if !ok {
		return nil, fmt.Errorf("no collection for domain %q: %w", d, pkgerrors.ErrStoreUnavailable)
	}

	queryVec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %v: %w", err, pkgerrors.ErrStoreUnavailable)
	}

	hits, err := store.Search(ctx, queryVec, topK)
	if err != nil {
		a.logger.Error("vector search failed", "domain", d, "error", err)
		return nil, fmt.Errorf("search domain %q: %v: %w", d, err, pkgerrors.ErrStoreUnavailable)
	}

	docs := make([]RetrievedDocument, 0, len(hits))
	for _, hit := range hits {
		score := vector.ClampScore(float64(vector.CosineSimilarity(queryVec, hit.Vector)))
		if score < scoreThreshold {
			continue
		}
		docs = append(docs, fromEmbedding(d, hit, score))
	}
	a.logger.Debug("search completed", "domain", d, "hits", len(docs), "top_k", topK)
	return docs, nil
}

// Upsert inserts or replaces documents in their domain collections. HTML
// exports are converted to plain text before embedding.
func (a *Adapter) Upsert(ctx context.Context, docs ...Document) error {
	for _, doc := range docs {
		store, ok := a.stores[doc.Domain]
		if !ok {
			return fmt.Errorf("no collection for domain %q: %w", doc.Domain, pkgerrors.ErrStoreUnavailable)
		}
		if doc.SourceID == "" {
			return fmt.Errorf("document source ID cannot be empty")
		}

		content := preprocess.Document(doc.Content)
		if content == "" {
			return fmt.Errorf("document %s has no content after preprocessing", doc.SourceID)
		}

		vec, err := a.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.SourceID, err)
		}

		metadata := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		if doc.Title != "" {
			metadata["title"] = doc.Title
		}

		if err := store.AddEmbedding(ctx, &vector.Embedding{
			ID:       doc.SourceID,
			Vector:   vec,
			Text:     content,
			Metadata: metadata,
		}); err != nil {
			return fmt.Errorf("store document %s: %v: %w", doc.SourceID, err, pkgerrors.ErrStoreUnavailable)
		}
	}
	return nil
}

// Delete removes a document from its domain collection.
func (a *Adapter) Delete(ctx context.Context, d domain.Domain, sourceID string) error {
	store, ok := a.stores[d]
	if !ok {
		return fmt.Errorf("no collection for domain %q: %w", d, pkgerrors.ErrStoreUnavailable)
	}
	if err := store.DeleteEmbedding(ctx, sourceID); err != nil {
		return fmt.Errorf("delete document %s: %w", sourceID, err)
	}
	return nil
}

// Ready reports per-domain readiness for ops tooling.
func (a *Adapter) Ready(ctx context.Context) map[domain.Domain]bool {
	status := make(map[domain.Domain]bool, len(a.stores))
	for d, store := range a.stores {
		if pinger, ok := store.(Pinger); ok {
			status[d] = pinger.Ping(ctx) == nil
			continue
		}
		_, err := store.Count(ctx)
		status[d] = err == nil
	}
	return status
}

// Domains lists the domains this adapter serves.
func (a *Adapter) Domains() []domain.Domain {
	out := make([]domain.Domain, 0, len(a.stores))
	for _, d := range domain.All() {
		if _, ok := a.stores[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Close releases any store connections that support closing.
func (a *Adapter) Close() error {
	var firstErr error
	for d, store := range a.stores {
		if closer, ok := store.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close store for domain %q: %w", d, err)
			}
		}
	}
	return firstErr
}

func fromEmbedding(d domain.Domain, emb *vector.Embedding, score float64) RetrievedDocument {
	doc := RetrievedDocument{
		SourceID: emb.ID,
		Domain:   d,
		Excerpt:  emb.Text,
		Score:    score,
	}
	if len(emb.Metadata) > 0 {
		doc.Metadata = make(map[string]any, len(emb.Metadata))
		for k, v := range emb.Metadata {
			doc.Metadata[k] = v
		}
		if title, ok := emb.Metadata["title"].(string); ok {
			doc.Title = title
		}
	}
	return doc
}
