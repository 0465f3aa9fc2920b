package conversation

import (
	"context"
	"time"

	"github.com/tradegate/customs-copilot/message"
)

// Conversation is one chat session owned by a user. It is created on the
// first message of a session, mutated on every subsequent message, and
// soft-deleted (deactivated) rather than hard-deleted.
type Conversation struct {
	ID           string         `json:"id"`
	UserID       int64          `json:"user_id"`
	Title        string         `json:"title"`
	MessageCount int            `json:"message_count"`
	LastAgent    string         `json:"last_agent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
}

// Summary is the listing projection of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	LastAgent    string    `json:"last_agent,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Page is one page of conversation summaries.
type Page struct {
	Conversations []Summary `json:"conversations"`
	Total         int       `json:"total_conversations"`
}

// Store is the persistence contract for conversations and their messages.
// AppendMessage must be atomic with respect to the conversation's counters:
// concurrent appends to the same conversation must not lose updates.
type Store interface {
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation returns errors.ErrConversationNotFound for unknown IDs.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// AppendMessage inserts the message and atomically bumps message_count,
	// updated_at and last_active_at; for assistant messages it also records
	// last_agent. Appends to unknown or deactivated conversations fail with
	// ErrConversationNotFound / ErrConversationInactive.
	AppendMessage(ctx context.Context, conversationID string, msg *message.Message) (*Conversation, error)

	// SetTitle updates the conversation title.
	SetTitle(ctx context.Context, conversationID, title string) error

	// GetMessages returns messages ordered by creation time ascending
	// (most-recent-last), applying offset and limit.
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]*message.Message, error)

	// ListConversations returns active conversations for the user, most
	// recently updated first.
	ListConversations(ctx context.Context, userID int64, page, limit int) (*Page, error)

	// Deactivate soft-deletes a conversation; its data is retained but it is
	// excluded from listings.
	Deactivate(ctx context.Context, conversationID string) error

	Ping(ctx context.Context) error
	Close() error
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
