package core

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

const roomPrefix = "conversation_"

// RoomName returns the room name of a conversation.
func RoomName(conversationID string) string {
	return roomPrefix + conversationID
}

// Member is a live participant of a room.
type Member struct {
	UserID string
	Role   store.Role
}

// RoomSnapshot is returned to a connection that joined a conversation.
type RoomSnapshot struct {
	Room             string
	Conversation     *store.Conversation
	Admin            store.Profile
	Client           store.Profile
	Participant      store.Profile // the caller's counterpart
	Members          []Member
	PreviousMessages []*store.Message // chronological
}

// RoomManager groups live connections by conversation.
// Each connection belongs to at most one room.
type RoomManager struct {
	store        Store
	historyLimit int

	mu       sync.RWMutex
	rooms    map[string]*room
	connRoom map[string]string // connection id -> conversation id
}

type room struct {
	mu    sync.Mutex
	conns map[string]*Client
	// dead is set when the room emptied and is being dropped from the manager.
	dead atomic.Bool
}

// NewRoomManager creates a manager reading conversations from st.
func NewRoomManager(st Store, historyLimit int) *RoomManager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &RoomManager{
		store:        st,
		historyLimit: historyLimit,
		rooms:        make(map[string]*room),
		connRoom:     make(map[string]string),
	}
}

// Join verifies that c's user participates in the conversation, moves c into
// its room and returns a snapshot. previous is the room c was in before the
// call: empty for a first join and equal to conversationID for a re-join.
// Nothing is attached when an error is returned.
func (m *RoomManager) Join(ctx context.Context, conversationID string, c *Client) (snap *RoomSnapshot, previous string, err error) {
	if conversationID == "" {
		return nil, "", coreError(ErrCodeValidation, "conversationId is required")
	}

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", persistenceError(ctx, "load conversation", err)
	}
	if !conv.IsParticipant(c.UserID) {
		return nil, "", coreError(ErrCodeForbidden, "not a participant of this conversation")
	}

	recent, err := m.store.ListRecentMessages(ctx, conversationID, m.historyLimit)
	if err != nil {
		return nil, "", persistenceError(ctx, "load history", err)
	}
	slices.Reverse(recent)

	admin, err := m.profile(ctx, conv.AdminID, store.RoleAdmin)
	if err != nil {
		return nil, "", err
	}
	client, err := m.profile(ctx, conv.ClientID, store.RoleClient)
	if err != nil {
		return nil, "", err
	}
	participant := client
	if c.UserID == conv.ClientID {
		participant = admin
	}

	previous = m.attach(conversationID, c)

	return &RoomSnapshot{
		Room:             RoomName(conversationID),
		Conversation:     conv,
		Admin:            admin,
		Client:           client,
		Participant:      participant,
		Members:          m.Members(conversationID),
		PreviousMessages: recent,
	}, previous, nil
}

// profile resolves a participant's public identity, falling back to a
// placeholder when the user row is gone.
func (m *RoomManager) profile(ctx context.Context, userID string, role store.Role) (store.Profile, error) {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Profile{ID: userID, Name: store.FallbackName(role), Role: role}, nil
		}
		return store.Profile{}, persistenceError(ctx, "load participant", err)
	}
	return user.Profile(), nil
}

// Leave removes the connection from the conversation's room.
// It reports false if the connection was not in that room.
func (m *RoomManager) Leave(conversationID, connectionID string) bool {
	m.mu.Lock()
	if m.connRoom[connectionID] != conversationID || conversationID == "" {
		m.mu.Unlock()
		return false
	}
	delete(m.connRoom, connectionID)
	m.mu.Unlock()

	m.remove(conversationID, connectionID)
	return true
}

// Detach removes the connection from whatever room it is in.
func (m *RoomManager) Detach(connectionID string) (string, bool) {
	m.mu.Lock()
	conversationID, ok := m.connRoom[connectionID]
	delete(m.connRoom, connectionID)
	m.mu.Unlock()
	if !ok {
		return "", false
	}

	m.remove(conversationID, connectionID)
	return conversationID, true
}

// ConversationOf returns the conversation the connection is currently in.
func (m *RoomManager) ConversationOf(connectionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conversationID, ok := m.connRoom[connectionID]
	return conversationID, ok
}

// Members returns the distinct users with a live connection in the room,
// admins first.
func (m *RoomManager) Members(conversationID string) []Member {
	r := m.lookup(conversationID)
	if r == nil {
		return []Member{}
	}

	r.mu.Lock()
	seen := make(map[string]struct{}, len(r.conns))
	members := make([]Member, 0, len(r.conns))
	for _, c := range r.conns {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		members = append(members, Member{UserID: c.UserID, Role: c.Role})
	}
	r.mu.Unlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].Role != members[j].Role {
			return members[i].Role == store.RoleAdmin
		}
		return members[i].UserID < members[j].UserID
	})
	return members
}

// Broadcast sends ev to every connection in the room except those of
// excludeUserID. It returns the ids of the connections that accepted it.
func (m *RoomManager) Broadcast(conversationID string, ev *Event, excludeUserID string) map[string]struct{} {
	reached := make(map[string]struct{})
	r := m.lookup(conversationID)
	if r == nil {
		return reached
	}

	r.mu.Lock()
	targets := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if excludeUserID != "" && c.UserID == excludeUserID {
			continue
		}
		if c.Send(ev) {
			reached[c.ID] = struct{}{}
		}
	}
	return reached
}

func (m *RoomManager) lookup(conversationID string) *room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[conversationID]
}

func (m *RoomManager) getOrCreate(conversationID string) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[conversationID]
	if !ok || r.dead.Load() {
		r = &room{conns: make(map[string]*Client)}
		m.rooms[conversationID] = r
	}
	return r
}

// attach adds c to the conversation's room and evicts it from its previous one.
// It returns the room c was in before, which may be conversationID itself.
func (m *RoomManager) attach(conversationID string, c *Client) string {
	for {
		r := m.getOrCreate(conversationID)
		r.mu.Lock()
		if r.dead.Load() {
			r.mu.Unlock()
			continue
		}
		r.conns[c.ID] = c
		r.mu.Unlock()
		break
	}

	m.mu.Lock()
	previous := m.connRoom[c.ID]
	m.connRoom[c.ID] = conversationID
	m.mu.Unlock()

	if previous != "" && previous != conversationID {
		m.remove(previous, c.ID)
	}
	return previous
}

// remove deletes the connection from the room and drops the room once empty.
func (m *RoomManager) remove(conversationID, connectionID string) {
	r := m.lookup(conversationID)
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.conns, connectionID)
	empty := len(r.conns) == 0
	if empty {
		r.dead.Store(true)
	}
	r.mu.Unlock()

	if empty {
		m.mu.Lock()
		if m.rooms[conversationID] == r {
			delete(m.rooms, conversationID)
		}
		m.mu.Unlock()
	}
}
