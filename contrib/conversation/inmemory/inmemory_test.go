package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tradegate/customs-copilot/conversation"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
)

func newConversation(id string, userID int64) *conversation.Conversation {
	now := time.Now().UTC()
	return &conversation.Conversation{
		ID:           id,
		UserID:       userID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
}

func TestAppendMessageUpdatesCounters(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.CreateConversation(ctx, newConversation("c1", 7)); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	userMsg := message.New(message.RoleUser, "질문")
	conv, err := store.AppendMessage(ctx, "c1", userMsg)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if conv.MessageCount != 1 {
		t.Errorf("expected count 1, got %d", conv.MessageCount)
	}

	assistantMsg := message.NewAssistant("답변", "statute", nil, nil)
	conv, err = store.AppendMessage(ctx, "c1", assistantMsg)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if conv.MessageCount != 2 {
		t.Errorf("expected count 2, got %d", conv.MessageCount)
	}
	if conv.LastAgent != "statute" {
		t.Errorf("expected last_agent statute, got %q", conv.LastAgent)
	}
	if conv.UpdatedAt.Before(conv.CreatedAt) {
		t.Error("updated_at went backwards")
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.AppendMessage(context.Background(), "missing", message.New(message.RoleUser, "x"))
	if !errors.Is(err, pkgerrors.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAppendMessageInactiveConversation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.CreateConversation(ctx, newConversation("c1", 7)); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := store.Deactivate(ctx, "c1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	_, err := store.AppendMessage(ctx, "c1", message.New(message.RoleUser, "x"))
	if !errors.Is(err, pkgerrors.ErrConversationInactive) {
		t.Errorf("expected ErrConversationInactive, got %v", err)
	}
}

func TestConcurrentAppendsLoseNoUpdates(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.CreateConversation(ctx, newConversation("c1", 7)); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := message.New(message.RoleUser, fmt.Sprintf("m%d", i))
			if _, err := store.AppendMessage(ctx, "c1", msg); err != nil {
				t.Errorf("AppendMessage failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	conv, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.MessageCount != n {
		t.Errorf("expected %d messages, got %d", n, conv.MessageCount)
	}
	msgs, err := store.GetMessages(ctx, "c1", n, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != n {
		t.Errorf("expected %d stored messages, got %d", n, len(msgs))
	}
}

func TestGetMessagesPagination(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.CreateConversation(ctx, newConversation("c1", 7)); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := message.New(message.RoleUser, fmt.Sprintf("m%d", i))
		if _, err := store.AppendMessage(ctx, "c1", msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := store.GetMessages(ctx, "c1", 2, 1)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "m1" || msgs[1].Content != "m2" {
		t.Errorf("unexpected page: %q, %q", msgs[0].Content, msgs[1].Content)
	}

	// Offset past the end yields an empty page, not an error.
	msgs, err = store.GetMessages(ctx, "c1", 10, 100)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty page, got %d", len(msgs))
	}
}

func TestListConversationsExcludesInactive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		conv := newConversation(fmt.Sprintf("c%d", i), 7)
		conv.UpdatedAt = conv.UpdatedAt.Add(time.Duration(i) * time.Second)
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation failed: %v", err)
		}
	}
	if err := store.Deactivate(ctx, "c0"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	page, err := store.ListConversations(ctx, 7, 1, 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("expected 2 active conversations, got %d", page.Total)
	}
	for _, s := range page.Conversations {
		if s.ID == "c0" {
			t.Error("deactivated conversation listed")
		}
	}
	// Most recently updated first.
	if len(page.Conversations) == 2 && page.Conversations[0].ID != "c2" {
		t.Errorf("expected c2 first, got %s", page.Conversations[0].ID)
	}
}

func TestListConversationsOtherUser(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.CreateConversation(ctx, newConversation("c1", 7)); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	page, err := store.ListConversations(ctx, 99, 1, 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if page.Total != 0 || len(page.Conversations) != 0 {
		t.Errorf("expected no conversations for other user, got %+v", page)
	}
}
