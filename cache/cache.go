// Package cache defines the response cache for answered questions. Keys are
// deterministic digests of the normalized question, the consulted domains,
// and the conversation scope, so repeated questions can short-circuit
// retrieval and synthesis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/tradegate/customs-copilot/message"
)

// DefaultTTL is the cache entry lifetime when none is configured.
const DefaultTTL = 15 * time.Minute

// Payload is the cached result of one answered question: the final answer
// text plus the citations and agents that produced it.
type Payload struct {
	Text       string               `json:"text"`
	Citations  []message.Citation   `json:"citations,omitempty"`
	Routing    *message.RoutingInfo `json:"routing_info,omitempty"`
	AgentUsed  string               `json:"agent_used,omitempty"`
	Confidence float64              `json:"confidence"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Cache stores answer payloads under deterministic keys with a TTL. Get
// returns (nil, nil) on a miss; cache failures must never fail a request.
type Cache interface {
	Get(ctx context.Context, key string) (*Payload, error)
	Put(ctx context.Context, key string, payload *Payload, ttl time.Duration) error
	Close() error
}

// Key derives the deterministic cache key for a question. The same
// normalized question, domain set (order-insensitive), and scope always
// yield the same key.
func Key(normalizedQuestion string, domains []string, scope string) string {
	sorted := make([]string, len(domains))
	copy(sorted, domains)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(strings.ToLower(normalizedQuestion))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return "answer:" + hex.EncodeToString(h.Sum(nil))
}
