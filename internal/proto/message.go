package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
// Ref is echoed back on the matching ack so clients can correlate replies.
type Inbound struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin       = "joinConversation"
	InboundTypeLeave      = "leaveConversation"
	InboundTypeSend       = "sendMessage"
	InboundTypeMarkRead   = "markAsRead"
	InboundTypeTyping     = "typing"
	InboundTypeStopTyping = "stopTyping"

	OutboundTypeAck   = "ack"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	StatusSuccess = "success"
	StatusError   = "error"

	// Protocol-level error codes, for frames that never reach the core.
	ErrCodeBadRequest     = "bad_request"
	ErrCodeInvalidMessage = "invalid_message"
)

// ConversationData names a conversation; used by join, leave and typing.
type ConversationData struct {
	ConversationID string `json:"conversationId"`
}

// SendData is a sendMessage request.
type SendData struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	SenderID       string `json:"senderId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
}

// MarkReadData is a markAsRead request.
type MarkReadData struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Message is the full message record sent to clients.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	Read           bool   `json:"read"`
}

// Profile is a user's public identity.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// Member is a live member of a room.
type Member struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// ConversationInfo describes both sides of a conversation.
type ConversationInfo struct {
	ID        string  `json:"id"`
	Admin     Profile `json:"admin"`
	Client    Profile `json:"client"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

// JoinAck answers joinConversation.
type JoinAck struct {
	Status           string           `json:"status"`
	Room             string           `json:"room"`
	Members          []Member         `json:"members"`
	PreviousMessages []Message        `json:"previousMessages"`
	Conversation     ConversationInfo `json:"conversation"`
	Participant      Profile          `json:"participant"`
}

// SendAck answers sendMessage.
type SendAck struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
	Delivery  string `json:"delivery"`
}

// ReadAck answers markAsRead.
type ReadAck struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// StatusAck answers requests with nothing else to report.
type StatusAck struct {
	Status string `json:"status"`
}

// ErrorAck is the ack for a failed request.
type ErrorAck struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventConnectionEstablished greets a new connection.
type EventConnectionEstablished struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	Timestamp    string `json:"timestamp"`
}

// EventMessagesRead tells the room which messages the reader has seen.
type EventMessagesRead struct {
	ConversationID string   `json:"conversationId"`
	ReaderID       string   `json:"readerId"`
	MessageIDs     []string `json:"messageIds"`
	Count          int64    `json:"count"`
	Timestamp      string   `json:"timestamp"`
}

// EventUserTyping is the ephemeral typing signal.
type EventUserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// EventMember notifies that a user joined or left a room.
type EventMember struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           string `json:"role"`
	Timestamp      string `json:"timestamp"`
}
