package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// memStore is an in-memory Store for hub tests.
type memStore struct {
	mu            sync.Mutex
	users         map[string]*store.User
	conversations map[string]*store.Conversation
	messages      []*store.Message
	creates       int

	// block, when set, makes every call wait for it or for ctx.
	block chan struct{}
	// failCreate, when set, is returned by CreateMessage.
	failCreate error
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]*store.User),
		conversations: make(map[string]*store.Conversation),
	}
}

func (s *memStore) wait(ctx context.Context) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memStore) CreateUser(ctx context.Context, user *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *memStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
}

func (s *memStore) CreateConversation(ctx context.Context, adminID, clientID string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("c%d", len(s.conversations)+1)
	conv := &store.Conversation{ID: id, AdminID: adminID, ClientID: clientID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.conversations[id] = conv
	return conv, nil
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	cp := *conv
	return &cp, nil
}

func (s *memStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	cp := *msg
	s.messages = append(s.messages, &cp)
	s.creates++
	return nil
}

func (s *memStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.ListMessages(ctx, conversationID, 0, limit)
}

func (s *memStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ConversationID == conversationID {
			cp := *s.messages[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkRead(ctx context.Context, conversationID, receiverID string, ids []string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var changed []string
	for _, m := range s.messages {
		if _, ok := want[m.ID]; !ok {
			continue
		}
		if m.ConversationID == conversationID && m.ReceiverID == receiverID && !m.Read {
			m.Read = true
			changed = append(changed, m.ID)
		}
	}
	return changed, nil
}

func (s *memStore) message(id string) *store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			cp := *m
			return &cp
		}
	}
	return nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// fixture is conversation c1 between admin u1 and client u2, plus outsider q.
type fixture struct {
	hub   *Hub
	store *memStore
	conv  *store.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	ctx := context.Background()
	for _, u := range []*store.User{
		{ID: "u1", Name: "Dispatch", Email: "admin@example.com", Role: store.RoleAdmin},
		{ID: "u2", Email: "client@example.com", Role: store.RoleClient},
		{ID: "q", Name: "Quinn", Email: "q@example.com", Role: store.RoleClient},
	} {
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	conv, err := st.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return &fixture{
		hub:   NewHub(st, nil, Options{}, nil),
		store: st,
		conv:  conv,
	}
}

// connect registers a new connection for userID and discards its greeting.
func (f *fixture) connect(t *testing.T, connID, userID string) *Client {
	t.Helper()
	role := store.RoleClient
	if userID == f.conv.AdminID {
		role = store.RoleAdmin
	}
	c := NewClient(connID, userID, role, 0)
	f.hub.Connect(c)
	mustEvent(t, c, EventConnectionEstablished)
	return c
}

func (f *fixture) join(t *testing.T, c *Client) *RoomSnapshot {
	t.Helper()
	snap, err := f.hub.Join(context.Background(), c, f.conv.ID)
	if err != nil {
		t.Fatalf("join %s: %v", c.UserID, err)
	}
	return snap
}

func (f *fixture) send(t *testing.T, c *Client, content string) *SendAck {
	t.Helper()
	ack, err := f.hub.Send(context.Background(), c, SendRequest{ConversationID: f.conv.ID, Content: content})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return ack
}

// nextEvent waits briefly for the next queued event.
func nextEvent(t *testing.T, c *Client) *Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("expected event for %s: %v", c.ID, err)
	}
	return ev
}

// mustEvent skips events until one of the given kind arrives.
func mustEvent(t *testing.T, c *Client, kind EventKind) *Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("expected event kind %v not received: %v", kind, err)
		}
		if ev.Kind == kind {
			return ev
		}
	}
}

// drainEvents returns everything queued without blocking.
func drainEvents(c *Client) []*Event {
	var out []*Event
	for c.Pending() > 0 {
		ev, err := c.Next(context.Background())
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

func kindsOf(events []*Event, kind EventKind) []*Event {
	var out []*Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
