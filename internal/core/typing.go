package core

// Typing relays a typing signal from c to the other members of the room.
// Signals for a room the connection is not in are dropped.
func (h *Hub) Typing(c *Client, conversationID string, isTyping bool) bool {
	current, ok := h.rooms.ConversationOf(c.ID)
	if !ok || current != conversationID {
		return false
	}

	h.rooms.Broadcast(conversationID, &Event{
		Kind:           EventUserTyping,
		ConversationID: conversationID,
		UserID:         c.UserID,
		Role:           c.Role,
		Typing:         isTyping,
		Timestamp:      h.now(),
	}, c.UserID)
	return true
}
