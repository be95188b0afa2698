package core

import "context"

// MarkRead flips the read flag of the given messages addressed to c's user and
// notifies the room. Ids that are unknown, already read or addressed to the
// other participant are skipped; both the returned count and the event cover
// actual changes only.
func (h *Hub) MarkRead(ctx context.Context, c *Client, conversationID string, messageIDs []string) (int64, error) {
	if conversationID == "" {
		return 0, coreError(ErrCodeValidation, "conversationId is required")
	}

	ids := uniqueIDs(messageIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := h.persistContext(ctx)
	defer cancel()

	conv, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, persistenceError(ctx, "load conversation", err)
	}
	counterpart, ok := conv.Counterpart(c.UserID)
	if !ok {
		return 0, coreError(ErrCodeForbidden, "not a participant of this conversation")
	}

	changed, err := h.store.MarkRead(ctx, conversationID, c.UserID, ids)
	if err != nil {
		return 0, persistenceError(ctx, "mark read", err)
	}
	if len(changed) == 0 {
		return 0, nil
	}
	ids = keepRequested(ids, changed)
	count := int64(len(ids))

	ev := &Event{
		Kind:           EventMessagesRead,
		ConversationID: conversationID,
		UserID:         c.UserID,
		Role:           c.Role,
		MessageIDs:     ids,
		Count:          count,
		Timestamp:      h.now(),
	}
	reached := h.rooms.Broadcast(conversationID, ev, "")
	h.presence.Notify(counterpart, ev, reached)

	h.log.Debug().
		Str("conversation_id", conversationID).
		Str("user_id", c.UserID).
		Int64("count", count).
		Msg("messages read")
	return count, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// keepRequested filters ids down to those in changed, keeping request order.
func keepRequested(ids, changed []string) []string {
	set := make(map[string]struct{}, len(changed))
	for _, id := range changed {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(changed))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
