package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// PresenceEntry records the newest connection of a user.
// It is kept with Online=false after disconnect.
type PresenceEntry struct {
	UserID       string
	Role         store.Role
	ConnectionID string
	ConnectedAt  time.Time
	Online       bool
}

// Delivery describes how a message reached its receiver.
type Delivery string

const (
	// DeliveryRoom means the receiver got the message through the conversation room.
	DeliveryRoom Delivery = "room"
	// DeliveryDirect means the receiver's bound connection got it outside the room.
	DeliveryDirect Delivery = "direct"
	// DeliveryQueued means the receiver was offline and the message went to the mailbox.
	DeliveryQueued Delivery = "queued"
)

// Presence tracks which users hold a live connection.
// State for a user is mutated only under that user's slot lock.
type Presence struct {
	mu      sync.Mutex
	slots   map[string]*presenceSlot
	conns   map[string]string // connection id -> user id
	mailbox Mailbox
	log     *zerolog.Logger
}

type presenceSlot struct {
	mu     sync.Mutex
	entry  PresenceEntry
	client *Client
}

// NewPresence creates a registry flushing the given mailbox on connect.
func NewPresence(mailbox Mailbox, logger *zerolog.Logger) *Presence {
	if mailbox == nil {
		mailbox = NewMemoryMailbox()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Presence{
		slots:   make(map[string]*presenceSlot),
		conns:   make(map[string]string),
		mailbox: mailbox,
		log:     logger,
	}
}

func (p *Presence) slot(userID string) *presenceSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[userID]
	if !ok {
		s = &presenceSlot{entry: PresenceEntry{UserID: userID}}
		p.slots[userID] = s
	}
	return s
}

func (p *Presence) lookup(userID string) *presenceSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[userID]
}

// MarkOnline binds c as the user's live connection and flushes the user's
// mailbox to it in FIFO order. It returns the superseded connection, if any;
// closing it is the caller's decision.
func (p *Presence) MarkOnline(c *Client) (previous *Client, flushed int) {
	p.mu.Lock()
	p.conns[c.ID] = c.UserID
	p.mu.Unlock()

	s := p.slot(c.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry.Online && s.client != nil && s.client != c {
		previous = s.client
	}
	s.entry = PresenceEntry{
		UserID:       c.UserID,
		Role:         c.Role,
		ConnectionID: c.ID,
		ConnectedAt:  c.ConnectedAt,
		Online:       true,
	}
	s.client = c

	queued := p.mailbox.Drain(c.UserID)
	if len(queued) == 0 {
		return previous, 0
	}
	evs := make([]*Event, len(queued))
	for i := range queued {
		evs[i] = newMessageEvent(&queued[i])
	}
	if !c.sendBacklog(evs) {
		// Connection died before the flush; keep everything for the next connect.
		for _, msg := range queued {
			p.mailbox.Enqueue(c.UserID, msg)
		}
		p.log.Warn().
			Str("user_id", c.UserID).
			Str("connection_id", c.ID).
			Int("requeued", len(queued)).
			Msg("mailbox flush interrupted")
		return previous, 0
	}
	return previous, len(queued)
}

// MarkOffline flags the entry bound to connectionID as offline.
// It is a no-op for unknown or superseded connections.
func (p *Presence) MarkOffline(connectionID string) bool {
	p.mu.Lock()
	userID, ok := p.conns[connectionID]
	delete(p.conns, connectionID)
	s := p.slots[userID]
	p.mu.Unlock()
	if !ok || s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry.ConnectionID != connectionID || !s.entry.Online {
		return false
	}
	s.entry.Online = false
	s.client = nil
	return true
}

// IsOnline reports whether the user holds a live connection.
func (p *Presence) IsOnline(userID string) bool {
	_, ok := p.ConnectionFor(userID)
	return ok
}

// ConnectionFor returns the user's live connection id.
func (p *Presence) ConnectionFor(userID string) (string, bool) {
	entry, ok := p.Entry(userID)
	if !ok || !entry.Online {
		return "", false
	}
	return entry.ConnectionID, true
}

// Entry returns the user's presence entry, online or not.
func (p *Presence) Entry(userID string) (PresenceEntry, bool) {
	s := p.lookup(userID)
	if s == nil {
		return PresenceEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry.ConnectionID == "" {
		return PresenceEntry{}, false
	}
	return s.entry, true
}

// DeliverOrQueue hands msg to the user's live connection unless it is in
// reached, or queues it in the mailbox when the user has no live connection.
// The decision is taken under the user's slot lock, so a concurrent connect
// either sees the queued message in its flush or is already bound.
func (p *Presence) DeliverOrQueue(userID string, msg *store.Message, reached map[string]struct{}) Delivery {
	s := p.slot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry.Online && s.client != nil {
		if _, ok := reached[s.client.ID]; ok {
			return DeliveryRoom
		}
		if s.client.Send(newMessageEvent(msg)) {
			return DeliveryDirect
		}
	}
	p.mailbox.Enqueue(userID, *msg)
	return DeliveryQueued
}

// Notify pushes ev to the user's live connection unless it is in reached.
// Nothing is queued for offline users.
func (p *Presence) Notify(userID string, ev *Event, reached map[string]struct{}) bool {
	s := p.lookup(userID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entry.Online || s.client == nil {
		return false
	}
	if _, ok := reached[s.client.ID]; ok {
		return false
	}
	return s.client.Send(ev)
}
