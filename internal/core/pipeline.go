package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// SendRequest is a sendMessage call. SenderID and ReceiverID are optional
// hints; the authenticated identity and the conversation record win.
type SendRequest struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
}

// SendAck is returned to the sender once the message is persisted.
type SendAck struct {
	MessageID string
	Timestamp time.Time
	Delivery  Delivery
	Message   *store.Message
}

// Send validates, persists and fans out a message from c.
// The message is written before anything is broadcast, and sends to one
// conversation are broadcast in the order they were persisted.
func (h *Hub) Send(ctx context.Context, c *Client, req SendRequest) (*SendAck, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, coreError(ErrCodeValidation, "content must not be empty")
	}
	if req.ConversationID == "" {
		return nil, coreError(ErrCodeValidation, "conversationId is required")
	}
	if req.SenderID != "" && req.SenderID != c.UserID {
		return nil, coreError(ErrCodeForbidden, "senderId does not match the authenticated user")
	}

	ctx, cancel := h.persistContext(ctx)
	defer cancel()

	unlock := h.sends.Lock(req.ConversationID)
	defer unlock()

	conv, err := h.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, persistenceError(ctx, "load conversation", err)
	}
	receiverID, ok := conv.Counterpart(c.UserID)
	if !ok {
		return nil, coreError(ErrCodeForbidden, "not a participant of this conversation")
	}

	logger := h.log.With().
		Str("conversation_id", conv.ID).
		Str("user_id", c.UserID).
		Logger()

	if req.ReceiverID != "" && req.ReceiverID != receiverID {
		logger.Warn().
			Str("claimed_receiver_id", req.ReceiverID).
			Str("receiver_id", receiverID).
			Msg("receiver corrected to conversation counterpart")
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       c.UserID,
		ReceiverID:     receiverID,
		Content:        req.Content,
		Timestamp:      h.now(),
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("persist message")
		return nil, persistenceError(ctx, "persist message", err)
	}

	reached := h.rooms.Broadcast(conv.ID, newMessageEvent(msg), "")
	delivery := h.presence.DeliverOrQueue(receiverID, msg, reached)

	logger.Debug().
		Str("message_id", msg.ID).
		Str("delivery", string(delivery)).
		Int("room_connections", len(reached)).
		Msg("message sent")

	return &SendAck{
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
		Delivery:  delivery,
		Message:   msg,
	}, nil
}
