package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

//go:embed schema.sql
var schema string

// PostgresStore implements store.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*PostgresStore)(nil)

// Connect creates a pgx pool using the provided DSN and verifies it with a ping.
func Connect(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = 60 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

// New connects to dsn and returns a store owning the pool.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// NewFromPool wraps an existing pool. Close closes it.
func NewFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// normalizeDSN converts driver-suffixed URLs (postgresql+asyncpg://) to plain ones.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql+asyncpg://", "postgres+asyncpg://", "postgresql+pgx://", "postgres+pgx://"} {
		if strings.HasPrefix(s, prefix) {
			scheme, _, _ := strings.Cut(prefix, "+")
			return scheme + "://" + strings.TrimPrefix(s, prefix)
		}
	}
	return s
}

// Migrate applies the embedded schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateUser inserts a user.
func (s *PostgresStore) CreateUser(ctx context.Context, user *store.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = store.UserStatusActive
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), string(user.Status), user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *PostgresStore) getUser(ctx context.Context, column, value string) (*store.User, error) {
	var (
		user   store.User
		role   string
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, status, created_at
		FROM users
		WHERE `+column+` = $1
	`, value).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &status, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", value, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.Role = store.Role(role)
	user.Status = store.UserStatus(status)
	return &user, nil
}

// CreateConversation creates the conversation between an admin and a client,
// or returns the existing one for the pair.
func (s *PostgresStore) CreateConversation(ctx context.Context, adminID, clientID string) (*store.Conversation, error) {
	now := time.Now().UTC()
	var conv store.Conversation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, admin_id, client_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (admin_id, client_id) DO UPDATE SET admin_id = EXCLUDED.admin_id
		RETURNING id, admin_id, client_id, created_at, updated_at
	`, uuid.NewString(), adminID, clientID, now).Scan(
		&conv.ID, &conv.AdminID, &conv.ClientID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, admin_id, client_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&conv.ID, &conv.AdminID, &conv.ClientID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &conv, nil
}

// CreateMessage persists a message and bumps the conversation's updated_at.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, timestamp, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp, msg.Read); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.Timestamp, msg.ConversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRecentMessages returns up to limit messages, newest first.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.ListMessages(ctx, conversationID, 0, limit)
}

// ListMessages returns a page of messages, newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, timestamp, is_read
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp DESC, seq DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Timestamp, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *PostgresStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// MarkRead flips unread messages addressed to receiverID to read and returns
// the ids it changed.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, receiverID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1 AND receiver_id = $2 AND is_read = FALSE
		  AND id = ANY($3)
		RETURNING id
	`, conversationID, receiverID, ids)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	changed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	return changed, nil
}
