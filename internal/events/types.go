package events

import (
	"strings"

	"github.com/google/uuid"
)

// Realtime events pushed to dashboard connections.
const (
	RealtimeMessageNew          = "message:new"
	RealtimeConversationUpdated = "conversation:updated"
	RealtimeUserTyping          = "user:typing"
	RealtimeUserStoppedTyping   = "user:stopped-typing"
)

// Client events accepted on a realtime connection.
const (
	ClientJoinConversation  = "join:conversation"
	ClientLeaveConversation = "leave:conversation"
	ClientTypingStart       = "typing:start"
	ClientTypingStop        = "typing:stop"
)

// Domain events relayed to the broker through the outbox. The event type
// doubles as the routing key.
const (
	EventTypeChatInbound         = "chat.inbound.v1"
	EventTypeChatOutbound        = "chat.outbound.v1"
	EventTypeChatReceipt         = "chat.receipt.v1"
	EventTypeConversationUpdated = "conversation.updated.v1"
)

const (
	AggregateMessage      = "message"
	AggregateConversation = "conversation"
)

const (
	conversationRoomPrefix = "conversation:"
	userRoomPrefix         = "user:"
)

func ConversationRoom(id uuid.UUID) string {
	return conversationRoomPrefix + id.String()
}

func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// ConversationIDFromRoom parses a conversation room name.
func ConversationIDFromRoom(room string) (uuid.UUID, bool) {
	if !strings.HasPrefix(room, conversationRoomPrefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(room, conversationRoomPrefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
