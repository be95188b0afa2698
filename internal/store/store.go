package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Role defines which side of a conversation a user is on.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleClient Role = "CLIENT"
)

// UserStatus defines the account state of a user.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusPending  UserStatus = "PENDING"
	UserStatusDisabled UserStatus = "DISABLED"
)

// User represents a user known to the identity collaborator.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
}

// Enabled reports whether the user may open connections.
func (u *User) Enabled() bool {
	return u.Status != UserStatusDisabled
}

// Profile is the public identity of a user as shown to the other participant.
type Profile struct {
	ID    string
	Name  string
	Email string
	Role  Role
}

// Profile returns the public identity of the user.
// A blank name falls back to the local part of the email, then to the role.
func (u *User) Profile() Profile {
	name := strings.TrimSpace(u.Name)
	if name == "" && u.Email != "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	if name == "" {
		name = FallbackName(u.Role)
	}
	return Profile{ID: u.ID, Name: name, Email: u.Email, Role: u.Role}
}

// FallbackName is the display name used when nothing better is known.
func FallbackName(role Role) string {
	switch role {
	case RoleAdmin:
		return "Admin"
	case RoleClient:
		return "Client"
	default:
		return "User"
	}
}

// Conversation is a fixed two-party channel between one admin and one client.
type Conversation struct {
	ID        string
	AdminID   string
	ClientID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParticipant reports whether userID is the admin or the client.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.AdminID || userID == c.ClientID)
}

// Counterpart returns the other participant relative to userID.
func (c *Conversation) Counterpart(userID string) (string, bool) {
	switch userID {
	case "":
		return "", false
	case c.AdminID:
		return c.ClientID, true
	case c.ClientID:
		return c.AdminID, true
	default:
		return "", false
	}
}

// Message represents a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Timestamp      time.Time
	Read           bool
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user. An empty ID is generated by the store.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation creates the conversation between an admin and a client.
	// Returns the existing row when the pair already has one.
	CreateConversation(ctx context.Context, adminID, clientID string) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message. ID and Timestamp are filled in when empty.
	CreateMessage(ctx context.Context, msg *Message) error

	// ListRecentMessages returns up to limit messages of a conversation, newest first.
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// ListMessages returns a page of messages, newest first.
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error)

	// CountMessages returns the number of messages in a conversation.
	CountMessages(ctx context.Context, conversationID string) (int64, error)

	// MarkRead flips read=true for unread messages of the conversation addressed to
	// receiverID whose id is in ids. Returns the ids that actually changed, in no
	// particular order.
	MarkRead(ctx context.Context, conversationID, receiverID string, ids []string) ([]string, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Migrate applies the schema.
	Migrate(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
