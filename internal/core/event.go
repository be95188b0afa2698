package core

import (
	"time"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnectionEstablished is the first event every connection receives.
	EventConnectionEstablished EventKind = iota
	// EventNewMessage carries a persisted message.
	EventNewMessage
	// EventMessagesRead tells the room that the reader flipped messages to read.
	EventMessagesRead
	// EventUserTyping carries an ephemeral typing signal.
	EventUserTyping
	// EventUserJoined notifies room members about a user joining.
	EventUserJoined
	// EventUserLeft notifies room members about a user leaving.
	EventUserLeft
)

var eventNames = map[EventKind]string{
	EventConnectionEstablished: "connectionEstablished",
	EventNewMessage:            "newMessage",
	EventMessagesRead:          "messagesRead",
	EventUserTyping:            "userTyping",
	EventUserJoined:            "userJoined",
	EventUserLeft:              "userLeft",
}

// String returns the wire name of the event.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	Role           store.Role
	ConnectionID   string
	Message        *store.Message // EventNewMessage
	MessageIDs     []string       // EventMessagesRead
	Count          int64          // EventMessagesRead
	Typing         bool           // EventUserTyping
	Timestamp      time.Time
}

func newMessageEvent(msg *store.Message) *Event {
	m := *msg
	return &Event{
		Kind:           EventNewMessage,
		ConversationID: m.ConversationID,
		UserID:         m.SenderID,
		Message:        &m,
		Timestamp:      m.Timestamp,
	}
}

func memberEvent(kind EventKind, conversationID string, c *Client, now time.Time) *Event {
	return &Event{
		Kind:           kind,
		ConversationID: conversationID,
		UserID:         c.UserID,
		Role:           c.Role,
		ConnectionID:   c.ID,
		Timestamp:      now,
	}
}
