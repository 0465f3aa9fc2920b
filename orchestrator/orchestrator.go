// Package orchestrator coordinates one chat turn end to end: classify the
// question, fan out to the selected domain agents, merge their grounded
// answers, persist the turn, and serve repeats from the response cache.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tradegate/customs-copilot/agent"
	"github.com/tradegate/customs-copilot/cache"
	"github.com/tradegate/customs-copilot/conversation"
	"github.com/tradegate/customs-copilot/domain"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
	"github.com/tradegate/customs-copilot/pkg/logging"
	"github.com/tradegate/customs-copilot/pkg/telemetry"
	"github.com/tradegate/customs-copilot/router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State names one stage of a chat turn.
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateRetrieving State = "retrieving"
	StateMerging    State = "merging"
	StatePersisted  State = "persisted"
	StateResponded  State = "responded"
	StateErrored    State = "errored"
)

const apologyMessage = "죄송합니다. 현재 상담 시스템에 일시적인 문제가 발생하여 " +
	"답변을 드리지 못했습니다. 잠시 후 다시 시도해 주세요."

// ChatRequest is one user turn.
type ChatRequest struct {
	Message        string            `json:"message"`
	UserID         int64             `json:"user_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Hints          map[string]string `json:"hints,omitempty"`
}

// ChatResponse is the completed turn.
type ChatResponse struct {
	ConversationID    string           `json:"conversation_id"`
	UserMessage       *message.Message `json:"user_message"`
	AssistantMessage  *message.Message `json:"assistant_message"`
	IsNewConversation bool             `json:"is_new_conversation"`
	FromCache         bool             `json:"from_cache"`
	ProcessingTime    float64          `json:"processing_time"`
}

// HealthStatus reports per-domain store readiness and provider availability.
type HealthStatus struct {
	Domains  map[domain.Domain]bool `json:"domains"`
	Provider bool                   `json:"provider"`
}

// DomainAgent is the orchestrator's view of one retrieval agent.
type DomainAgent interface {
	Name() string
	Domain() domain.Domain
	Answer(ctx context.Context, req agent.Request) (*agent.Answer, error)
}

// ReadyChecker reports per-domain document store readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) map[domain.Domain]bool
}

// Config tunes the orchestrator.
type Config struct {
	// AgentTimeout bounds each agent invocation during fan-out.
	AgentTimeout time.Duration
	// PersistTimeout bounds the detached persistence phase.
	PersistTimeout time.Duration
	// CacheTTL is the lifetime of cached answers.
	CacheTTL time.Duration
	// HistoryWindow caps how many recent messages feed routing and synthesis.
	HistoryWindow int
}

// DefaultConfig returns the stock orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		AgentTimeout:   30 * time.Second,
		PersistTimeout: 10 * time.Second,
		CacheTTL:       cache.DefaultTTL,
		HistoryWindow:  10,
	}
}

// Orchestrator runs the per-turn state machine.
type Orchestrator struct {
	cfg           Config
	router        *router.Classifier
	agents        map[string]DomainAgent
	conversations *conversation.Manager
	cache         cache.Cache
	stores        ReadyChecker
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables the response cache.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithReadyChecker wires the document store readiness probe used by Health.
func WithReadyChecker(rc ReadyChecker) Option {
	return func(o *Orchestrator) { o.stores = rc }
}

// WithLogger overrides the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator over a classifier, the domain agents, and the
// conversation manager.
func New(cfg Config, classifier *router.Classifier, agents []DomainAgent, conversations *conversation.Manager, opts ...Option) (*Orchestrator, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one domain agent is required")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation manager is required")
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 30 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}

	byName := make(map[string]DomainAgent, len(agents))
	for _, a := range agents {
		if a == nil {
			return nil, fmt.Errorf("domain agent cannot be nil")
		}
		if _, dup := byName[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent %q", a.Name())
		}
		byName[a.Name()] = a
	}

	o := &Orchestrator{
		cfg:           cfg,
		router:        classifier,
		agents:        byName,
		conversations: conversations,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("orchestrator")
	}
	o.tracer = otel.Tracer("orchestrator")
	return o, nil
}

// Process runs one chat turn through the state machine. Cancellation is
// honored up to the merge; once an answer exists the turn is persisted on a
// detached context so the record survives client disconnects.
func (o *Orchestrator) Process(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.process")
	var procErr error
	defer func() { telemetry.End(span, procErr) }()

	state := StateReceived
	question := strings.TrimSpace(req.Message)
	if question == "" {
		procErr = fmt.Errorf("message cannot be empty: %w", pkgerrors.ErrInvalidRequest)
		return nil, procErr
	}

	conv, isNew, err := o.resolveConversation(ctx, req)
	if err != nil {
		procErr = err
		return nil, o.fail(state, procErr)
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	history, err := o.recentHistory(ctx, conv)
	if err != nil {
		o.logger.Warn("history load failed, routing without context", "conversation_id", conv.ID, "error", err)
		history = nil
	}

	routing, err := o.router.Route(ctx, question, history)
	if err != nil {
		procErr = err
		return nil, o.fail(state, procErr)
	}
	state = StateClassified
	span.SetAttributes(
		attribute.StringSlice("routing.agents", routing.Agents),
		attribute.Float64("routing.complexity", routing.Complexity),
	)

	userMsg := message.New(message.RoleUser, question)
	userMsg.Routing = routing

	key := cache.Key(question, routing.Agents, conv.ID)
	if payload := o.cacheLookup(ctx, key); payload != nil {
		assistantMsg := message.NewAssistant(payload.Text, payload.AgentUsed, routing, payload.Citations)
		if err := o.persistTurn(ctx, conv.ID, userMsg, assistantMsg); err != nil {
			procErr = err
			return nil, o.fail(state, procErr)
		}
		o.logger.Info("served from cache", "conversation_id", conv.ID, "agents", routing.Agents)
		return &ChatResponse{
			ConversationID:    conv.ID,
			UserMessage:       userMsg,
			AssistantMessage:  assistantMsg,
			IsNewConversation: isNew,
			FromCache:         true,
			ProcessingTime:    time.Since(started).Seconds(),
		}, nil
	}

	state = StateRetrieving
	answers := o.fanOut(ctx, routing.Agents, agent.Request{
		Question: question,
		Hints:    req.Hints,
		History:  history,
	})
	if err := ctx.Err(); err != nil {
		procErr = fmt.Errorf("turn cancelled during retrieval: %w", err)
		return nil, o.fail(state, procErr)
	}

	state = StateMerging
	merged, allFailed := o.merge(routing, answers)
	if allFailed {
		o.logger.Error("all agents failed", "conversation_id", conv.ID, "agents", routing.Agents,
			"error", pkgerrors.ErrAllAgentsUnavailable)
	}

	assistantMsg := message.NewAssistant(merged.Text, merged.AgentUsed, routing, merged.Citations)
	if allFailed {
		if assistantMsg.Metadata == nil {
			assistantMsg.Metadata = map[string]any{}
		}
		assistantMsg.Metadata["degraded"] = true
	}

	if err := o.persistTurn(ctx, conv.ID, userMsg, assistantMsg); err != nil {
		procErr = err
		return nil, o.fail(state, procErr)
	}
	state = StatePersisted

	if !allFailed {
		o.cacheStore(ctx, key, merged, routing)
	}

	state = StateResponded
	o.logger.Info("turn completed", "conversation_id", conv.ID, "agents", routing.Agents,
		"state", state, "elapsed", time.Since(started))

	return &ChatResponse{
		ConversationID:    conv.ID,
		UserMessage:       userMsg,
		AssistantMessage:  assistantMsg,
		IsNewConversation: isNew,
		ProcessingTime:    time.Since(started).Seconds(),
	}, nil
}

// resolveConversation loads the target conversation or starts a new one.
func (o *Orchestrator) resolveConversation(ctx context.Context, req ChatRequest) (*conversation.Conversation, bool, error) {
	if req.ConversationID == "" {
		conv, err := o.conversations.CreateConversation(ctx, req.UserID, "")
		if err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}
	conv, err := o.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, false, err
	}
	if !conv.Active {
		return nil, false, fmt.Errorf("conversation %s: %w", conv.ID, pkgerrors.ErrConversationInactive)
	}
	return conv, false, nil
}

func (o *Orchestrator) recentHistory(ctx context.Context, conv *conversation.Conversation) ([]*message.Message, error) {
	offset := conv.MessageCount - o.cfg.HistoryWindow
	if offset < 0 {
		offset = 0
	}
	return o.conversations.GetHistory(ctx, conv.ID, o.cfg.HistoryWindow, offset)
}

// fanOut invokes the selected agents concurrently, each under its own
// timeout. Results keep routing order; failed slots are nil.
func (o *Orchestrator) fanOut(ctx context.Context, agentNames []string, req agent.Request) []*agent.Answer {
	answers := make([]*agent.Answer, len(agentNames))

	var wg sync.WaitGroup
	for i, name := range agentNames {
		a, ok := o.agents[name]
		if !ok {
			o.logger.Warn("router selected unknown agent", "agent", name)
			continue
		}
		wg.Add(1)
		go func(i int, a DomainAgent) {
			defer wg.Done()
			agentCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
			defer cancel()
			answer, err := a.Answer(agentCtx, req)
			if err != nil {
				o.logger.Warn("agent failed, dropping from merge", "agent", a.Name(), "error", err)
				return
			}
			answers[i] = answer
		}(i, a)
	}
	wg.Wait()
	return answers
}

type mergedAnswer struct {
	Text       string
	AgentUsed  string
	Citations  []message.Citation
	Confidence float64
}

// merge combines agent answers in routing priority order. A single answer
// passes through untouched; multiple answers are concatenated with domain
// section labels. Citations keep agent order, then per-agent score order.
func (o *Orchestrator) merge(routing *message.RoutingInfo, answers []*agent.Answer) (mergedAnswer, bool) {
	survivors := make([]*agent.Answer, 0, len(answers))
	for _, a := range answers {
		if a != nil {
			survivors = append(survivors, a)
		}
	}

	if len(survivors) == 0 {
		return mergedAnswer{Text: apologyMessage}, true
	}

	if len(survivors) == 1 {
		a := survivors[0]
		return mergedAnswer{
			Text:       a.Text,
			AgentUsed:  a.Agent,
			Citations:  a.Citations,
			Confidence: a.Confidence,
		}, false
	}

	var (
		sb         strings.Builder
		citations  []message.Citation
		seen       = map[string]struct{}{}
		confidence float64
	)
	for i, a := range survivors {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(domainLabel(a.Domain))
		sb.WriteString("\n\n")
		sb.WriteString(a.Text)

		for _, c := range a.Citations {
			if _, dup := seen[c.SourceID]; dup {
				continue
			}
			seen[c.SourceID] = struct{}{}
			citations = append(citations, c)
		}
		if a.Confidence > confidence {
			confidence = a.Confidence
		}
	}

	return mergedAnswer{
		Text:       sb.String(),
		AgentUsed:  survivors[0].Agent,
		Citations:  citations,
		Confidence: confidence,
	}, false
}

// persistTurn appends both halves of the turn on a detached context, so a
// client disconnect after merge does not lose the record.
func (o *Orchestrator) persistTurn(ctx context.Context, conversationID string, userMsg, assistantMsg *message.Message) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()

	if _, err := o.conversations.AppendMessage(persistCtx, conversationID, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	if _, err := o.conversations.AppendMessage(persistCtx, conversationID, assistantMsg); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	return nil
}

func (o *Orchestrator) cacheLookup(ctx context.Context, key string) *cache.Payload {
	if o.cache == nil {
		return nil
	}
	payload, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache lookup failed", "error", err)
		return nil
	}
	return payload
}

func (o *Orchestrator) cacheStore(ctx context.Context, key string, merged mergedAnswer, routing *message.RoutingInfo) {
	if o.cache == nil {
		return
	}
	payload := &cache.Payload{
		Text:       merged.Text,
		Citations:  merged.Citations,
		Routing:    routing,
		AgentUsed:  merged.AgentUsed,
		Confidence: merged.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.cache.Put(ctx, key, payload, o.cfg.CacheTTL); err != nil {
		o.logger.Warn("cache store failed", "error", err)
	}
}

func (o *Orchestrator) fail(state State, err error) error {
	o.logger.Error("turn failed", "state", StateErrored, "last_state", state, "error", err)
	return err
}

// Health probes the document stores per domain and the provider wiring.
func (o *Orchestrator) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Domains:  make(map[domain.Domain]bool, len(domain.All())),
		Provider: len(o.agents) > 0,
	}
	if o.stores != nil {
		status.Domains = o.stores.Ready(ctx)
	} else {
		for _, d := range domain.All() {
			_, ok := o.agents[string(d)]
			status.Domains[d] = ok
		}
	}
	return status
}

// History returns a page of the conversation's messages, oldest first.
func (o *Orchestrator) History(ctx context.Context, conversationID string, limit, offset int) ([]*message.Message, error) {
	return o.conversations.GetHistory(ctx, conversationID, limit, offset)
}

// ListConversations returns the user's active conversations.
func (o *Orchestrator) ListConversations(ctx context.Context, userID int64, page, limit int) (*conversation.Page, error) {
	return o.conversations.ListConversations(ctx, userID, page, limit)
}

// Deactivate soft-deletes a conversation.
func (o *Orchestrator) Deactivate(ctx context.Context, conversationID string) error {
	return o.conversations.Deactivate(ctx, conversationID)
}

// Close releases the conversation store and the response cache.
func (o *Orchestrator) Close() error {
	var errs []error
	if err := o.conversations.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close conversation store: %w", err))
	}
	if o.cache != nil {
		if err := o.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

func domainLabel(d domain.Domain) string {
	switch d {
	case domain.Statute:
		return "관세법령"
	case domain.Regulation:
		return "무역규제"
	case domain.Advisory:
		return "결정사례"
	}
	return string(d)
}
