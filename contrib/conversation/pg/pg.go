// Package pg implements conversation storage on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	cfg "github.com/tradegate/customs-copilot/config"
	"github.com/tradegate/customs-copilot/conversation"
	pkgerrors "github.com/tradegate/customs-copilot/errors"
	"github.com/tradegate/customs-copilot/message"
	"github.com/tradegate/customs-copilot/pkg/env"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresConfigFromEnv loads PostgreSQL configuration from environment variables.
func PostgresConfigFromEnv() *PostgresConfig {
	return &PostgresConfig{
		Host:     env.GetEnv("POSTGRES_HOST", "localhost"),
		Port:     env.GetEnvInt("POSTGRES_PORT", 5432),
		User:     env.GetEnv("POSTGRES_USER", "postgres"),
		Password: env.GetEnv("POSTGRES_PASSWORD", ""),
		DBName:   env.GetEnv("POSTGRES_DB", "customs_copilot"),
		SSLMode:  env.GetEnv("POSTGRES_SSLMODE", "disable"),
	}
}

// PostgresStore implements conversation.Store on PostgreSQL. Message appends
// run in a transaction that locks the conversation row, so the counters stay
// consistent under concurrent appends.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and prepares the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = PostgresConfigFromEnv()
	}

	if err := cfg.ValidatePostgresConfig(config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL configuration: %w", err)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection, for sharing a pool
// with other stores. The caller owns the connection lifecycle.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	store := &PostgresStore{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(64) PRIMARY KEY,
		user_id BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		message_count INT NOT NULL DEFAULT 0,
		last_agent VARCHAR(64) NOT NULL DEFAULT '',
		metadata JSONB,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		last_active_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
		ON conversations(user_id, updated_at DESC) WHERE active;

	CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		agent_used VARCHAR(64) NOT NULL DEFAULT '',
		routing_info JSONB,
		refs JSONB,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// CreateConversation inserts a new conversation row.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation cannot be nil and must have an ID")
	}

	metadataJSON, err := marshalJSON(conv.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
	INSERT INTO conversations (id, user_id, title, message_count, last_agent, metadata, active, created_at, updated_at, last_active_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.MessageCount, conv.LastAgent,
		metadataJSON, conv.Active, conv.CreatedAt, conv.UpdatedAt, conv.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation row by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	query := `
	SELECT id, user_id, title, message_count, last_agent, metadata, active, created_at, updated_at, last_active_at
	FROM conversations WHERE id = $1
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, id), id)
}

// AppendMessage inserts the message and bumps the conversation counters in
// one transaction, locking the conversation row first.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, msg *message.Message) (*conversation.Conversation, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active bool
	row := tx.QueryRowContext(ctx, `SELECT active FROM conversations WHERE id = $1 FOR UPDATE`, conversationID)
	if err := row.Scan(&active); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
		}
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}
	if !active {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationInactive)
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	routingJSON, err := marshalJSON(msg.Routing)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal routing info: %w", err)
	}
	refsJSON, err := marshalJSON(msg.References)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal references: %w", err)
	}
	metadataJSON, err := marshalJSON(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO messages (id, conversation_id, role, content, agent_used, routing_info, refs, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, conversationID, string(msg.Role), msg.Content, msg.AgentUsed, routingJSON, refsJSON, metadataJSON, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	lastAgent := ""
	if msg.Role == message.RoleAssistant {
		lastAgent = msg.AgentUsed
	}

	row = tx.QueryRowContext(ctx, `
	UPDATE conversations SET
		message_count = message_count + 1,
		updated_at = NOW(),
		last_active_at = NOW(),
		last_agent = CASE WHEN $2 <> '' THEN $2 ELSE last_agent END
	WHERE id = $1
	RETURNING id, user_id, title, message_count, last_agent, metadata, active, created_at, updated_at, last_active_at
	`, conversationID, lastAgent)

	conv, err := scanConversation(row, conversationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}
	return conv, nil
}

// SetTitle updates the conversation title.
func (s *PostgresStore) SetTitle(ctx context.Context, conversationID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = $2, updated_at = NOW() WHERE id = $1`, conversationID, title)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	return nil
}

// GetMessages returns messages ordered oldest-first, honoring offset/limit.
func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]*message.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, conversation_id, role, content, agent_used, routing_info, refs, metadata, created_at
	FROM messages WHERE conversation_id = $1
	ORDER BY created_at ASC, id ASC
	LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var (
			msg          message.Message
			role         string
			routingJSON  []byte
			refsJSON     []byte
			metadataJSON []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.AgentUsed,
			&routingJSON, &refsJSON, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = message.Role(role)
		if len(routingJSON) > 0 {
			var ri message.RoutingInfo
			if err := json.Unmarshal(routingJSON, &ri); err == nil {
				msg.Routing = &ri
			}
		}
		if len(refsJSON) > 0 {
			_ = json.Unmarshal(refsJSON, &msg.References)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &msg.Metadata)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// ListConversations returns the user's active conversations, most recently
// updated first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID int64, page, limit int) (*conversation.Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = $1 AND active`, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, title, message_count, last_agent, updated_at
	FROM conversations WHERE user_id = $1 AND active
	ORDER BY updated_at DESC
	LIMIT $2 OFFSET $3
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]conversation.Summary, 0, limit)
	for rows.Next() {
		var s conversation.Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.MessageCount, &s.LastAgent, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &conversation.Page{Conversations: summaries, Total: total}, nil
}

// Deactivate soft-deletes a conversation; rows are retained.
func (s *PostgresStore) Deactivate(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET active = FALSE, updated_at = NOW() WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrConversationNotFound)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner, id string) (*conversation.Conversation, error) {
	var (
		conv         conversation.Conversation
		metadataJSON []byte
	)
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.MessageCount, &conv.LastAgent,
		&metadataJSON, &conv.Active, &conv.CreatedAt, &conv.UpdatedAt, &conv.LastActiveAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s: %w", id, pkgerrors.ErrConversationNotFound)
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &conv.Metadata)
	}
	return &conv, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
