package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/db", "postgres://u:p@localhost:5432/db"},
		{" postgresql+asyncpg://u:p@db/app ", "postgresql://u:p@db/app"},
		{"postgres+pgx://u@db/app?sslmode=disable", "postgres://u@db/app?sslmode=disable"},
	}
	for _, tt := range tests {
		if got := normalizeDSN(tt.in); got != tt.want {
			t.Errorf("normalizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// newTestStore connects to PARCELCHAT_TEST_POSTGRES_URL or skips.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("PARCELCHAT_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("PARCELCHAT_TEST_POSTGRES_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConversationFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()

	admin := &store.User{Name: "Admin", Email: "admin-" + suffix + "@example.com", Role: store.RoleAdmin}
	client := &store.User{Name: "Client", Email: "client-" + suffix + "@example.com", Role: store.RoleClient}
	for _, u := range []*store.User{admin, client} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	conv, err := s.CreateConversation(ctx, admin.ID, client.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	again, err := s.CreateConversation(ctx, admin.ID, client.ID)
	if err != nil {
		t.Fatalf("CreateConversation again: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("expected same conversation, got %s and %s", conv.ID, again.ID)
	}

	msg := &store.Message{ConversationID: conv.ID, SenderID: admin.ID, ReceiverID: client.ID, Content: "Package delayed"}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	recent, err := s.ListRecentMessages(ctx, conv.ID, 20)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != msg.ID {
		t.Fatalf("unexpected messages: %+v", recent)
	}

	for i, want := range []int{1, 0} {
		changed, err := s.MarkRead(ctx, conv.ID, client.ID, []string{msg.ID, "missing-" + suffix})
		if err != nil {
			t.Fatalf("MarkRead #%d: %v", i, err)
		}
		if len(changed) != want {
			t.Fatalf("MarkRead #%d: expected %d changed, got %v", i, want, changed)
		}
		if want == 1 && changed[0] != msg.ID {
			t.Fatalf("MarkRead #%d: unexpected id %s", i, changed[0])
		}
	}

	if _, err := s.GetConversation(ctx, "missing-"+suffix); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
