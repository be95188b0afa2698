package http

import (
	"time"

	"github.com/vovakirdan/parcelchat-server/internal/core"
	"github.com/vovakirdan/parcelchat-server/internal/proto"
	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// timestampLayout is ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String()}

	switch event.Kind {
	case core.EventConnectionEstablished:
		out.Data = proto.EventConnectionEstablished{
			ConnectionID: event.ConnectionID,
			UserID:       event.UserID,
			Role:         string(event.Role),
			Timestamp:    formatTime(event.Timestamp),
		}
	case core.EventNewMessage:
		if event.Message != nil {
			out.Data = messageToProto(event.Message)
		}
	case core.EventMessagesRead:
		out.Data = proto.EventMessagesRead{
			ConversationID: event.ConversationID,
			ReaderID:       event.UserID,
			MessageIDs:     event.MessageIDs,
			Count:          event.Count,
			Timestamp:      formatTime(event.Timestamp),
		}
	case core.EventUserTyping:
		out.Data = proto.EventUserTyping{
			ConversationID: event.ConversationID,
			UserID:         event.UserID,
			IsTyping:       event.Typing,
		}
	case core.EventUserJoined, core.EventUserLeft:
		out.Data = proto.EventMember{
			ConversationID: event.ConversationID,
			UserID:         event.UserID,
			Role:           string(event.Role),
			Timestamp:      formatTime(event.Timestamp),
		}
	}
	return out
}

func messageToProto(msg *store.Message) proto.Message {
	return proto.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Timestamp:      formatTime(msg.Timestamp),
		Read:           msg.Read,
	}
}

func messagesToProto(msgs []*store.Message) []proto.Message {
	out := make([]proto.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageToProto(msg))
	}
	return out
}

func profileToProto(p store.Profile) proto.Profile {
	return proto.Profile{ID: p.ID, Name: p.Name, Email: p.Email, Role: string(p.Role)}
}

func joinAckFromSnapshot(snap *core.RoomSnapshot) proto.JoinAck {
	members := make([]proto.Member, 0, len(snap.Members))
	for _, m := range snap.Members {
		members = append(members, proto.Member{ID: m.UserID, Role: string(m.Role)})
	}

	ack := proto.JoinAck{
		Status:           proto.StatusSuccess,
		Room:             snap.Room,
		Members:          members,
		PreviousMessages: messagesToProto(snap.PreviousMessages),
		Participant:      profileToProto(snap.Participant),
	}
	if snap.Conversation != nil {
		ack.Conversation = proto.ConversationInfo{
			ID:        snap.Conversation.ID,
			Admin:     profileToProto(snap.Admin),
			Client:    profileToProto(snap.Client),
			CreatedAt: formatTime(snap.Conversation.CreatedAt),
			UpdatedAt: formatTime(snap.Conversation.UpdatedAt),
		}
	}
	return ack
}

func errorAck(err error) proto.ErrorAck {
	msg := "internal error"
	if ce, ok := asCoreError(err); ok {
		msg = ce.Message
	}
	return proto.ErrorAck{Status: proto.StatusError, Code: core.CodeOf(err), Message: msg}
}
