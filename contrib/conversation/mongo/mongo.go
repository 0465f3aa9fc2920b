// Package mongo implements conversation storage on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfg "github.com/tradegate/customs-copilot/config"
	"github.com/tradegate/customs-copilot/conversation"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
	"github.com/tradegate/customs-copilot/pkg/env"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI      string
	Database string
}

// MongoConfigFromEnv loads MongoDB configuration from environment variables.
func MongoConfigFromEnv() *MongoConfig {
	return &MongoConfig{
		URI:      env.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		Database: env.GetEnv("MONGO_DB", "customs_copilot"),
	}
}

// MongoStore implements conversation.Store on MongoDB. Conversation counters
// are updated with atomic $inc/$set operations, so concurrent appends to the
// same conversation never lose updates.
type MongoStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
}

type conversationDoc struct {
	ID           string         `bson:"_id"`
	UserID       int64          `bson:"user_id"`
	Title        string         `bson:"title"`
	MessageCount int            `bson:"message_count"`
	LastAgent    string         `bson:"last_agent"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	Active       bool           `bson:"active"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
	LastActiveAt time.Time      `bson:"last_active_at"`
}

type messageDoc struct {
	ID             string               `bson:"_id"`
	ConversationID string               `bson:"conversation_id"`
	Role           string               `bson:"role"`
	Content        string               `bson:"content"`
	AgentUsed      string               `bson:"agent_used,omitempty"`
	Routing        *message.RoutingInfo `bson:"routing_info,omitempty"`
	References     []message.Citation   `bson:"refs,omitempty"`
	Metadata       map[string]any       `bson:"metadata,omitempty"`
	CreatedAt      time.Time            `bson:"created_at"`
}

// NewMongoStore connects to MongoDB and prepares indexes.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = MongoConfigFromEnv()
	}
	if err := cfg.ValidateMongoDBConfig(config.URI, config.Database, "conversations"); err != nil {
		return nil, fmt.Errorf("invalid MongoDB configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	store := &MongoStore{
		client:        client,
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

// CreateConversation inserts a new conversation document.
func (s *MongoStore) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation cannot be nil and must have an ID")
	}
	_, err := s.conversations.InsertOne(ctx, toConversationDoc(conv))
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation document by ID.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var doc conversationDoc
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", id, pkgerrors.ErrConversationNotFound)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return fromConversationDoc(&doc), nil
}

// AppendMessage atomically bumps the conversation counters with a filtered
// FindOneAndUpdate, then inserts the message document.
func (s *MongoStore) AppendMessage(ctx context.Context, conversationID string, msg *message.Message) (*conversation.Conversation, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	set := bson.M{"updated_at": now, "last_active_at": now}
	if msg.Role == message.RoleAssistant && msg.AgentUsed != "" {
		set["last_agent"] = msg.AgentUsed
	}

	var doc conversationDoc
	err := s.conversations.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID, "active": true},
		bson.M{"$inc": bson.M{"message_count": 1}, "$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish unknown from deactivated.
			count, cErr := s.conversations.CountDocuments(ctx, bson.M{"_id": conversationID})
			if cErr == nil && count > 0 {
				return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationInactive)
			}
			return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
		}
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	if _, err := s.messages.InsertOne(ctx, toMessageDoc(conversationID, msg)); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return fromConversationDoc(&doc), nil
}

// SetTitle updates the conversation title.
func (s *MongoStore) SetTitle(ctx context.Context, conversationID, title string) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"title": title, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	return nil
}

// GetMessages returns messages ordered oldest-first, honoring offset/limit.
func (s *MongoStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]*message.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []*message.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, fromMessageDoc(&doc))
	}
	return msgs, cursor.Err()
}

// ListConversations returns the user's active conversations, most recently
// updated first.
func (s *MongoStore) ListConversations(ctx context.Context, userID int64, page, limit int) (*conversation.Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	filter := bson.M{"user_id": userID, "active": true}
	total, err := s.conversations.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer cursor.Close(ctx)

	summaries := make([]conversation.Summary, 0, limit)
	for cursor.Next(ctx) {
		var doc conversationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		summaries = append(summaries, conversation.Summary{
			ID:           doc.ID,
			Title:        doc.Title,
			MessageCount: doc.MessageCount,
			LastAgent:    doc.LastAgent,
			UpdatedAt:    doc.UpdatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return &conversation.Page{Conversations: summaries, Total: int(total)}, nil
}

// Deactivate soft-deletes a conversation; documents are retained.
func (s *MongoStore) Deactivate(ctx context.Context, conversationID string) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"active": false, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	return nil
}

// Ping checks MongoDB connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toConversationDoc(conv *conversation.Conversation) *conversationDoc {
	return &conversationDoc{
		ID:           conv.ID,
		UserID:       conv.UserID,
		Title:        conv.Title,
		MessageCount: conv.MessageCount,
		LastAgent:    conv.LastAgent,
		Metadata:     conv.Metadata,
		Active:       conv.Active,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		LastActiveAt: conv.LastActiveAt,
	}
}

func fromConversationDoc(doc *conversationDoc) *conversation.Conversation {
	return &conversation.Conversation{
		ID:           doc.ID,
		UserID:       doc.UserID,
		Title:        doc.Title,
		MessageCount: doc.MessageCount,
		LastAgent:    doc.LastAgent,
		Metadata:     doc.Metadata,
		Active:       doc.Active,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		LastActiveAt: doc.LastActiveAt,
	}
}

func toMessageDoc(conversationID string, msg *message.Message) *messageDoc {
	return &messageDoc{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		AgentUsed:      msg.AgentUsed,
		Routing:        msg.Routing,
		References:     msg.References,
		Metadata:       msg.Metadata,
		CreatedAt:      msg.CreatedAt,
	}
}

func fromMessageDoc(doc *messageDoc) *message.Message {
	return &message.Message{
		ID:             doc.ID,
		ConversationID: doc.ConversationID,
		Role:           message.Role(doc.Role),
		Content:        doc.Content,
		AgentUsed:      doc.AgentUsed,
		Routing:        doc.Routing,
		References:     doc.References,
		Metadata:       doc.Metadata,
		CreatedAt:      doc.CreatedAt,
	}
}
