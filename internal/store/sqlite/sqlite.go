package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates all tables. It is safe to run more than once.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

func open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Migrate applies the embedded schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = store.UserStatusActive
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, name, email, password_hash, role, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.Status, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, column, value string) (*store.User, error) {
	query := `
		SELECT id, name, email, password_hash, role, status, created_at
		FROM users
		WHERE ` + column + ` = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", value, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== ConversationStore implementation ====

// CreateConversation creates the conversation between an admin and a client.
func (s *SQLiteStore) CreateConversation(ctx context.Context, adminID, clientID string) (*store.Conversation, error) {
	existing, err := s.getConversation(ctx, "admin_id = ? AND client_id = ?", adminID, clientID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing conversation: %w", err)
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		ClientID:  clientID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO conversations (id, admin_id, client_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.AdminID, conv.ClientID, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.getConversation(ctx, "id = ?", id)
}

func (s *SQLiteStore) getConversation(ctx context.Context, where string, args ...any) (*store.Conversation, error) {
	query := `
		SELECT id, admin_id, client_id, created_at, updated_at
		FROM conversations
		WHERE ` + where
	var conv store.Conversation
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&conv.ID,
		&conv.AdminID,
		&conv.ClientID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &conv, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and bumps the conversation's updated_at.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, timestamp, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp, msg.Read,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.Timestamp, msg.ConversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRecentMessages returns up to limit messages, newest first.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.ListMessages(ctx, conversationID, 0, limit)
}

// ListMessages returns a page of messages, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, timestamp, is_read
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&msg.Timestamp,
			&msg.Read,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// MarkRead flips unread messages addressed to receiverID to read and returns
// the ids it changed.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, receiverID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `
		UPDATE messages
		SET is_read = 1
		WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0
		  AND id IN (` + placeholders + `)
		RETURNING id
	`
	args := make([]any, 0, len(ids)+2)
	args = append(args, conversationID, receiverID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan read id: %w", err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read ids: %w", err)
	}
	return changed, nil
}
