package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradegate/customs-copilot/message"
	"github.com/tradegate/customs-copilot/pkg/logging"
)

// titleMaxRunes bounds derived conversation titles.
const titleMaxRunes = 60

// Manager owns conversation and message persistence, session lookups, and the
// history retrieval agents use for context.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a conversation manager on top of a storage backend.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("conversation_manager")
	}
	return m, nil
}

// CreateConversation starts a new conversation for the user. The title may be
// empty; it is then derived from the first user message on append.
func (m *Manager) CreateConversation(ctx context.Context, userID int64, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        strings.TrimSpace(title),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		m.logger.Error("create conversation failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	m.logger.Info("conversation created", "id", conv.ID, "user_id", userID)
	return conv, nil
}

// GetConversation fetches a conversation by ID.
func (m *Manager) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return m.store.GetConversation(ctx, id)
}

// AppendMessage appends a message, atomically updating the conversation's
// counters. When the conversation still has no title and the message is a
// user message, the title is derived from its content.
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, msg *message.Message) (*message.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	msg.ConversationID = conversationID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	conv, err := m.store.AppendMessage(ctx, conversationID, msg)
	if err != nil {
		m.logger.Error("append message failed", "conversation_id", conversationID, "role", msg.Role, "error", err)
		return nil, err
	}

	if conv.Title == "" && msg.Role == message.RoleUser {
		title := DeriveTitle(msg.Content)
		if err := m.store.SetTitle(ctx, conversationID, title); err != nil {
			m.logger.Warn("derive title failed", "conversation_id", conversationID, "error", err)
		}
	}

	m.logger.Debug("message appended", "conversation_id", conversationID, "role", msg.Role, "count", conv.MessageCount)
	return msg, nil
}

// GetHistory returns the conversation's messages ordered most-recent-last.
func (m *Manager) GetHistory(ctx context.Context, conversationID string, limit, offset int) ([]*message.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.GetMessages(ctx, conversationID, limit, offset)
}

// ListConversations returns paginated summaries of the user's active
// conversations, most recently updated first.
func (m *Manager) ListConversations(ctx context.Context, userID int64, page, limit int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return m.store.ListConversations(ctx, userID, page, limit)
}

// Deactivate soft-deletes a conversation.
func (m *Manager) Deactivate(ctx context.Context, conversationID string) error {
	if err := m.store.Deactivate(ctx, conversationID); err != nil {
		m.logger.Error("deactivate conversation failed", "conversation_id", conversationID, "error", err)
		return err
	}
	m.logger.Info("conversation deactivated", "conversation_id", conversationID)
	return nil
}

// Ping checks the persistence backend.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Close releases the persistence backend.
func (m *Manager) Close() error {
	return m.store.Close()
}

// DeriveTitle builds a conversation title from the first user message,
// truncated to a bounded length.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes]) + "..."
	}
	if title == "" {
		title = "새 대화"
	}
	return title
}
