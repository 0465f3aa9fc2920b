package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradegate/customs-copilot/config"
	"github.com/tradegate/customs-copilot/docstore"
	"github.com/tradegate/customs-copilot/domain"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
	"github.com/tradegate/customs-copilot/pkg/logging"
	"github.com/tradegate/customs-copilot/rerank"
)

// GenerateRequest bundles inputs for a non-streaming LLM invocation.
type GenerateRequest struct {
	Messages []*message.Message
}

// GenerateResponse captures the LLM reply for non-streaming calls.
type GenerateResponse struct {
	Message *message.Message
}

// LLMClient defines the interface for generation providers.
type LLMClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Request is one question for a single domain agent, with the auxiliary hints
// and recent history the orchestrator forwards.
type Request struct {
	Question string
	Hints    map[string]string
	History  []*message.Message
}

// Answer is the grounded result of one agent invocation.
type Answer struct {
	Agent      string
	Domain     domain.Domain
	Text       string
	Citations  []message.Citation
	Confidence float64
	Grounded   bool
}

// Config tunes one domain-bound retrieval agent.
type Config struct {
	Domain             domain.Domain
	TopK               int
	ScoreThreshold     float64
	RerankEnabled      bool
	Abbreviations      map[string]string
	SystemPrompt       string
	NoGroundingMessage string
	// HistoryWindow caps how many recent messages are forwarded to synthesis.
	HistoryWindow int
	// RetryBackoff is the delay before the single synthesis retry.
	RetryBackoff time.Duration
}

// Agent answers a single question within one knowledge domain, grounded in
// retrieved documents. Three instances (statute, regulation, advisory) share
// this implementation, parameterized by domain config.
type Agent struct {
	cfg      Config
	store    docstore.Searcher
	llm      LLMClient
	reranker rerank.Reranker
	logger   *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithReranker overrides the secondary re-ranking signal.
func WithReranker(r rerank.Reranker) Option {
	return func(a *Agent) {
		if r != nil {
			a.reranker = r
		}
	}
}

// WithLogger overrides the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates a retrieval agent from domain config.
func New(cfg Config, store docstore.Searcher, llm LLMClient, opts ...Option) (*Agent, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if !domain.Valid(cfg.Domain) {
		return nil, fmt.Errorf("unknown domain %q", cfg.Domain)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if err := config.ValidateRetrievalConfig(cfg.TopK, cfg.ScoreThreshold); err != nil {
		return nil, err
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt(cfg.Domain)
	}
	if cfg.NoGroundingMessage == "" {
		cfg.NoGroundingMessage = defaultNoGroundingMessage
	}

	a := &Agent{
		cfg:      cfg,
		store:    store,
		llm:      llm,
		reranker: rerank.NewKeyword(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.WithComponent("agent").With("domain", string(cfg.Domain))
	}
	return a, nil
}

// Name returns the agent identifier the router selects by.
func (a *Agent) Name() string {
	return string(a.cfg.Domain)
}

// Domain returns the knowledge domain this agent is bound to.
func (a *Agent) Domain() domain.Domain {
	return a.cfg.Domain
}

// Answer runs the retrieval pipeline: normalize, search, filter, optionally
// re-rank, synthesize. A store outage degrades to an ungrounded answer; a
// synthesis failure is retried once before surfacing ErrAgentUnavailable.
func (a *Agent) Answer(ctx context.Context, req Request) (*Answer, error) {
	query := Normalize(req.Question, a.cfg.Abbreviations, req.Hints)

	docs, err := a.store.Search(ctx, a.cfg.Domain, query, a.cfg.TopK, a.cfg.ScoreThreshold)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrStoreUnavailable) {
			return nil, err
		}
		a.logger.Warn("document store unavailable, degrading to ungrounded answer", "error", err)
		docs = nil
	}

	if len(docs) > 0 && a.cfg.RerankEnabled && a.reranker != nil {
		reranked, err := a.reranker.Rank(ctx, query, docs)
		if err != nil {
			a.logger.Warn("rerank failed, keeping store order", "error", err)
		} else {
			docs = reranked
		}
	}

	if len(docs) == 0 {
		return &Answer{
			Agent:      a.Name(),
			Domain:     a.cfg.Domain,
			Text:       a.cfg.NoGroundingMessage,
			Citations:  nil,
			Confidence: 0.1,
			Grounded:   false,
		}, nil
	}

	text, err := a.synthesize(ctx, req, docs)
	if err != nil {
		return nil, err
	}

	return &Answer{
		Agent:      a.Name(),
		Domain:     a.cfg.Domain,
		Text:       text,
		Citations:  toCitations(docs),
		Confidence: confidence(docs),
		Grounded:   true,
	}, nil
}

// synthesize calls the generation backend, retrying once with backoff.
func (a *Agent) synthesize(ctx context.Context, req Request, docs []docstore.RetrievedDocument) (string, error) {
	genReq := &GenerateRequest{Messages: a.buildMessages(req, docs)}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			backoff := a.cfg.RetryBackoff << (attempt - 1)
			a.logger.Warn("synthesis failed, retrying", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("synthesis cancelled: %v: %w", ctx.Err(), pkgerrors.ErrAgentUnavailable)
			case <-time.After(backoff):
			}
		}
		resp, err := a.llm.Generate(ctx, genReq)
		if err == nil && resp != nil && resp.Message != nil {
			return resp.Message.Content, nil
		}
		if err == nil {
			err = fmt.Errorf("empty generation response")
		}
		lastErr = err
	}
	return "", fmt.Errorf("agent %s synthesis: %v: %w", a.Name(), lastErr, pkgerrors.ErrAgentUnavailable)
}

func (a *Agent) buildMessages(req Request, docs []docstore.RetrievedDocument) []*message.Message {
	msgs := make([]*message.Message, 0, len(req.History)+2)
	msgs = append(msgs, message.New(message.RoleSystem, a.cfg.SystemPrompt))

	history := req.History
	if len(history) > a.cfg.HistoryWindow {
		history = history[len(history)-a.cfg.HistoryWindow:]
	}
	for _, msg := range history {
		if msg == nil || (msg.Role != message.RoleUser && msg.Role != message.RoleAssistant) {
			continue
		}
		msgs = append(msgs, message.New(msg.Role, msg.Content))
	}

	msgs = append(msgs, message.New(message.RoleUser, BuildGroundedPrompt(req.Question, docs)))
	return msgs
}

func toCitations(docs []docstore.RetrievedDocument) []message.Citation {
	refs := make([]message.Citation, 0, len(docs))
	for _, doc := range docs {
		refs = append(refs, message.Citation{
			SourceID: doc.SourceID,
			Title:    doc.Title,
			Score:    doc.Score,
			Metadata: doc.Metadata,
		})
	}
	return refs
}

// confidence averages the top three retrieval scores.
func confidence(docs []docstore.RetrievedDocument) float64 {
	if len(docs) == 0 {
		return 0
	}
	n := len(docs)
	if n > 3 {
		n = 3
	}
	var sum float64
	for _, doc := range docs[:n] {
		sum += doc.Score
	}
	avg := sum / float64(n)
	if avg > 1 {
		avg = 1
	}
	if avg < 0 {
		avg = 0
	}
	return avg
}
