package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

const (
	// DefaultPersistTimeout bounds every store call made on behalf of a request.
	DefaultPersistTimeout = 10 * time.Second
	// DefaultHistoryLimit is the number of messages returned on join.
	DefaultHistoryLimit = 20
)

// Store is the persistence the core reads and writes.
type Store interface {
	store.UserStore
	store.ConversationStore
	store.MessageStore
}

// Options tunes the hub.
type Options struct {
	PersistTimeout time.Duration
	HistoryLimit   int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Hub coordinates presence, rooms, the mailbox and message flow.
// All methods are safe for concurrent use by connection handlers.
type Hub struct {
	store    Store
	presence *Presence
	rooms    *RoomManager
	mailbox  Mailbox
	sends    *keyedMutex
	opts     Options
	log      *zerolog.Logger
}

// NewHub creates a new chat hub instance. A nil mailbox means an in-memory one.
func NewHub(st Store, mailbox Mailbox, opts Options, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if mailbox == nil {
		mailbox = NewMemoryMailbox()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		store:    st,
		presence: NewPresence(mailbox, logger),
		rooms:    NewRoomManager(st, opts.HistoryLimit),
		mailbox:  mailbox,
		sends:    newKeyedMutex(),
		opts:     opts,
		log:      logger,
	}
}

// Presence exposes the presence registry.
func (h *Hub) Presence() *Presence { return h.presence }

// Rooms exposes the room manager.
func (h *Hub) Rooms() *RoomManager { return h.rooms }

// Mailbox exposes the offline mailbox.
func (h *Hub) Mailbox() Mailbox { return h.mailbox }

func (h *Hub) now() time.Time {
	return h.opts.Now().UTC().Truncate(time.Millisecond)
}

func (h *Hub) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.opts.PersistTimeout)
}

// Connect registers an authenticated client: it is greeted, marked online and
// receives its queued messages before any request is served.
func (h *Hub) Connect(c *Client) {
	c.Send(&Event{
		Kind:         EventConnectionEstablished,
		UserID:       c.UserID,
		Role:         c.Role,
		ConnectionID: c.ID,
		Timestamp:    h.now(),
	})

	previous, flushed := h.presence.MarkOnline(c)
	logger := h.log.With().Str("user_id", c.UserID).Str("connection_id", c.ID).Logger()
	if previous != nil {
		logger.Info().Str("previous_connection_id", previous.ID).Msg("connection superseded")
	}
	logger.Info().Int("flushed", flushed).Msg("client connected")
}

// Disconnect closes the client, removes it from its room and marks it offline.
func (h *Hub) Disconnect(c *Client) {
	c.Close()
	if conversationID, ok := h.rooms.Detach(c.ID); ok {
		h.rooms.Broadcast(conversationID, memberEvent(EventUserLeft, conversationID, c, h.now()), "")
	}
	h.presence.MarkOffline(c.ID)
	h.log.Info().Str("user_id", c.UserID).Str("connection_id", c.ID).Msg("client disconnected")
}

// Join attaches c to the conversation's room.
func (h *Hub) Join(ctx context.Context, c *Client, conversationID string) (*RoomSnapshot, error) {
	ctx, cancel := h.persistContext(ctx)
	defer cancel()

	snap, previous, err := h.rooms.Join(ctx, conversationID, c)
	if err != nil {
		h.log.Debug().Err(err).
			Str("user_id", c.UserID).
			Str("conversation_id", conversationID).
			Msg("join rejected")
		return nil, err
	}

	// A re-join of the current room refreshes the snapshot only.
	if previous != conversationID {
		now := h.now()
		if previous != "" {
			h.rooms.Broadcast(previous, memberEvent(EventUserLeft, previous, c, now), "")
		}
		h.rooms.Broadcast(conversationID, memberEvent(EventUserJoined, conversationID, c, now), c.UserID)
	}

	h.log.Debug().
		Str("user_id", c.UserID).
		Str("conversation_id", conversationID).
		Int("history", len(snap.PreviousMessages)).
		Msg("joined conversation")
	return snap, nil
}

// Leave detaches c from the conversation's room. It is idempotent.
func (h *Hub) Leave(c *Client, conversationID string) bool {
	if !h.rooms.Leave(conversationID, c.ID) {
		return false
	}
	h.rooms.Broadcast(conversationID, memberEvent(EventUserLeft, conversationID, c, h.now()), "")
	return true
}
