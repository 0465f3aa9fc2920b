package message

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Citation records one retrieved source that grounds an assistant answer.
type Citation struct {
	SourceID string         `json:"source_id"`
	Title    string         `json:"title,omitempty"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RoutingInfo is the routing-decision snapshot embedded into the assistant
// message that the decision triggered. It is never persisted on its own.
type RoutingInfo struct {
	Agents     []string `json:"agents"`
	Complexity float64  `json:"complexity"`
	Reasoning  string   `json:"reasoning"`
}

// Message represents a single message in a conversation.
// Messages within a conversation are strictly ordered by creation time; an
// assistant message always follows the user message that triggered it.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	AgentUsed      string         `json:"agent_used,omitempty"`
	Routing        *RoutingInfo   `json:"routing_info,omitempty"`
	References     []Citation     `json:"references,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// New creates a message with the given role and content.
func New(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistant creates an assistant message carrying its routing snapshot and citations.
func NewAssistant(content, agentUsed string, routing *RoutingInfo, refs []Citation) *Message {
	msg := New(RoleAssistant, content)
	msg.AgentUsed = agentUsed
	msg.Routing = routing
	msg.References = refs
	return msg
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if msg.Routing != nil {
		r := *msg.Routing
		r.Agents = append([]string(nil), msg.Routing.Agents...)
		cloned.Routing = &r
	}
	if len(msg.References) > 0 {
		cloned.References = make([]Citation, len(msg.References))
		for i, ref := range msg.References {
			cloned.References[i] = cloneCitation(ref)
		}
	}
	if msg.Metadata != nil {
		cloned.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

func cloneCitation(ref Citation) Citation {
	cloned := Citation{
		SourceID: ref.SourceID,
		Title:    ref.Title,
		Score:    ref.Score,
	}
	if ref.Metadata != nil {
		cloned.Metadata = make(map[string]any, len(ref.Metadata))
		for k, v := range ref.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return cloned
}
