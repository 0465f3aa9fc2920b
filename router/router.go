package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tradegate/customs-copilot/domain"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
	"github.com/tradegate/customs-copilot/pkg/logging"
	"github.com/tradegate/customs-copilot/tokenizer"
)

// Config tunes the classifier.
type Config struct {
	// Domains carries the per-domain keyword sets.
	Domains map[domain.Domain]domain.Config
	// CompoundThreshold is the complexity score above which multiple agents
	// are consulted.
	CompoundThreshold float64
	// MinConfidence is the lowest domain signal that counts as a match;
	// below it the fallback agent is selected.
	MinConfidence float64
	// Epsilon is the score distance within which two domains are considered
	// tied.
	Epsilon float64
	// Fallback is the agent used when no domain signal clears MinConfidence.
	Fallback domain.Domain
	// MaxAgents caps how many agents a compound question fans out to.
	MaxAgents int
}

// DefaultConfig returns the stock router tuning.
func DefaultConfig() Config {
	return Config{
		Domains:           domain.DefaultConfigs(),
		CompoundThreshold: 0.55,
		MinConfidence:     0.2,
		Epsilon:           0.1,
		Fallback:          domain.Statute,
		MaxAgents:         3,
	}
}

// Classifier decides which domain agent(s) should handle a question.
// Classification is purely lexical and deterministic: identical inputs yield
// identical decisions.
type Classifier struct {
	cfg    Config
	tok    tokenizer.Tokenizer
	logger *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTokenizer overrides the token counter behind the length signal.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(c *Classifier) {
		if tok != nil {
			c.tok = tok
		}
	}
}

// WithLogger overrides the classifier logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a classifier.
func New(cfg Config, opts ...Option) *Classifier {
	if cfg.Domains == nil {
		cfg.Domains = domain.DefaultConfigs()
	}
	if cfg.CompoundThreshold <= 0 {
		cfg.CompoundThreshold = 0.55
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.2
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.1
	}
	if !domain.Valid(cfg.Fallback) {
		cfg.Fallback = domain.Statute
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 3
	}
	c := &Classifier{
		cfg: cfg,
		tok: tokenizer.NewSimpleTokenizer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("router")
	}
	return c
}

// conjunctions that mark an explicitly compound question.
var conjunctions = []string{"그리고", "또한", " 및 ", "and also", "as well as"}

// Route classifies a question and selects the agent(s) to consult. It never
// returns an empty agent list for a non-empty question; when no domain signal
// clears the minimum confidence the fallback agent is selected.
func (c *Classifier) Route(ctx context.Context, question string, history []*message.Message) (*message.RoutingInfo, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty: %w", pkgerrors.ErrInvalidRequest)
	}

	scores := c.scoreDomains(question)
	complexity := c.complexity(question, scores)

	ranked := rankDomains(scores)
	matched := withSignal(ranked, scores, c.cfg.MinConfidence)

	if len(matched) == 0 {
		decision := &message.RoutingInfo{
			Agents:     []string{string(c.cfg.Fallback)},
			Complexity: complexity,
			Reasoning:  "default/fallback: no domain signal cleared minimum confidence",
		}
		c.logger.Info("routing decision", "agents", decision.Agents, "complexity", complexity, "fallback", true)
		return decision, nil
	}

	// Session continuity: within epsilon of the leader, prefer the domain of
	// the most recent assistant turn before the fixed priority order.
	matched = c.applyTieBreak(matched, scores, history)

	selected := matched
	reason := fmt.Sprintf("%s keyword signal dominates (score %.2f)", matched[0], scores[matched[0]])
	if complexity >= c.cfg.CompoundThreshold && len(matched) > 1 {
		if len(selected) > c.cfg.MaxAgents {
			selected = selected[:c.cfg.MaxAgents]
		}
		names := make([]string, len(selected))
		for i, d := range selected {
			names[i] = string(d)
		}
		reason = fmt.Sprintf("compound question (complexity %.2f): consulting %s", complexity, strings.Join(names, ", "))
	} else {
		selected = matched[:1]
	}

	agents := make([]string, len(selected))
	for i, d := range selected {
		agents[i] = string(d)
	}

	decision := &message.RoutingInfo{
		Agents:     agents,
		Complexity: complexity,
		Reasoning:  reason,
	}
	c.logger.Info("routing decision", "agents", decision.Agents, "complexity", complexity)
	return decision, nil
}

// scoreDomains computes a lexical signal per domain in [0,1).
func (c *Classifier) scoreDomains(question string) map[domain.Domain]float64 {
	lower := strings.ToLower(question)
	words := tokenizeWords(lower)

	scores := make(map[domain.Domain]float64, len(c.cfg.Domains))
	for d, cfg := range c.cfg.Domains {
		matches := 0
		for _, kw := range cfg.Keywords {
			if matchKeyword(lower, words, kw) {
				matches++
			}
		}
		// saturating curve: 1 hit = 0.5, 2 hits = 0.67, 3 hits = 0.75 ...
		scores[d] = float64(matches) / (float64(matches) + 1)
	}
	return scores
}

// complexity blends question length, the count of distinct domain cues, and
// explicit conjunctions into one [0,1] estimate.
func (c *Classifier) complexity(question string, scores map[domain.Domain]float64) float64 {
	tokens := float64(c.tok.CountTokens(question))
	length := tokens / 40
	if length > 1 {
		length = 1
	}

	cued := 0
	for _, score := range scores {
		if score >= c.cfg.MinConfidence {
			cued++
		}
	}
	cues := 0.0
	if cued > 1 {
		cues = float64(cued-1) / 2
		if cues > 1 {
			cues = 1
		}
	}

	conj := 0.0
	lower := strings.ToLower(question)
	for _, marker := range conjunctions {
		if strings.Contains(lower, marker) {
			conj = 1
			break
		}
	}

	score := 0.3*length + 0.45*cues + 0.25*conj
	if score > 1 {
		score = 1
	}
	return score
}

// applyTieBreak reorders domains whose scores sit within epsilon of the
// leader, preferring the most recent turn's agent.
func (c *Classifier) applyTieBreak(ranked []domain.Domain, scores map[domain.Domain]float64, history []*message.Message) []domain.Domain {
	last := lastAgentUsed(history)
	if last == "" || len(ranked) < 2 {
		return ranked
	}
	top := scores[ranked[0]]
	for i, d := range ranked {
		if top-scores[d] > c.cfg.Epsilon {
			break
		}
		if string(d) == last && i > 0 {
			reordered := append([]domain.Domain{d}, append(append([]domain.Domain{}, ranked[:i]...), ranked[i+1:]...)...)
			return reordered
		}
	}
	return ranked
}

func lastAgentUsed(history []*message.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg != nil && msg.Role == message.RoleAssistant && msg.AgentUsed != "" {
			return msg.AgentUsed
		}
	}
	return ""
}

// rankDomains orders all domains by score descending, fixed priority on ties.
func rankDomains(scores map[domain.Domain]float64) []domain.Domain {
	ranked := make([]domain.Domain, 0, len(scores))
	for d := range scores {
		ranked = append(ranked, d)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return domain.Priority(ranked[i]) < domain.Priority(ranked[j])
	})
	return ranked
}

func withSignal(ranked []domain.Domain, scores map[domain.Domain]float64, minConfidence float64) []domain.Domain {
	out := make([]domain.Domain, 0, len(ranked))
	for _, d := range ranked {
		if scores[d] >= minConfidence {
			out = append(out, d)
		}
	}
	return out
}

// matchKeyword matches CJK keywords by substring (agglutinative suffixes) and
// ASCII keywords by whole word.
func matchKeyword(lowerQuestion string, words map[string]struct{}, keyword string) bool {
	kw := strings.ToLower(keyword)
	if isASCII(kw) {
		_, ok := words[kw]
		return ok
	}
	return strings.Contains(lowerQuestion, kw)
}

func tokenizeWords(lower string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		out[w] = struct{}{}
	}
	return out
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
