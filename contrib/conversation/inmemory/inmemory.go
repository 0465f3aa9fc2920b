// Package inmemory implements conversation storage in process memory. It is
// the default backend for tests and single-node deployments.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradegate/customs-copilot/conversation"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
)

// InMemoryStore implements conversation.Store using in-memory maps.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation.Conversation
	messages      map[string][]*message.Message
}

// NewInMemoryStore creates a new in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*conversation.Conversation),
		messages:      make(map[string][]*message.Message),
	}
}

// CreateConversation saves a new conversation.
func (s *InMemoryStore) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation cannot be nil and must have an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	clone := conv.Clone()
	s.conversations[conv.ID] = &clone
	return nil
}

// GetConversation returns a conversation by ID.
func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", id, pkgerrors.ErrConversationNotFound)
	}
	clone := conv.Clone()
	return &clone, nil
}

// AppendMessage inserts the message and bumps the conversation counters under
// one lock, so concurrent appends never lose updates.
func (s *InMemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *message.Message) (*conversation.Conversation, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	if !conv.Active {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationInactive)
	}

	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	s.messages[conversationID] = append(s.messages[conversationID], message.Clone(msg))

	conv.MessageCount++
	conv.UpdatedAt = now
	conv.LastActiveAt = now
	if msg.Role == message.RoleAssistant && msg.AgentUsed != "" {
		conv.LastAgent = msg.AgentUsed
	}

	clone := conv.Clone()
	return &clone, nil
}

// SetTitle updates the conversation title.
func (s *InMemoryStore) SetTitle(ctx context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// GetMessages returns messages ordered oldest-first, honoring offset/limit.
func (s *InMemoryStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.conversations[conversationID]; !exists {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}

	msgs := s.messages[conversationID]
	if offset >= len(msgs) {
		return []*message.Message{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(msgs) {
		end = len(msgs)
	}
	return message.CloneMessages(msgs[offset:end]), nil
}

// ListConversations returns the user's active conversations, most recently
// updated first.
func (s *InMemoryStore) ListConversations(ctx context.Context, userID int64, page, limit int) (*conversation.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	active := make([]*conversation.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID && conv.Active {
			active = append(active, conv)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})

	start := (page - 1) * limit
	if start > len(active) {
		start = len(active)
	}
	end := start + limit
	if end > len(active) {
		end = len(active)
	}

	summaries := make([]conversation.Summary, 0, end-start)
	for _, conv := range active[start:end] {
		summaries = append(summaries, conversation.Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: conv.MessageCount,
			LastAgent:    conv.LastAgent,
			UpdatedAt:    conv.UpdatedAt,
		})
	}

	return &conversation.Page{
		Conversations: summaries,
		Total:         len(active),
	}, nil
}

// Deactivate soft-deletes a conversation; its messages are retained.
func (s *InMemoryStore) Deactivate(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	conv.Active = false
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
