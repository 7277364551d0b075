package events

import (
	"time"

	"relaydesk/internal/domain/conversation"
)

type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Event name and version, e.g. chat.inbound.v1
	Type string `json:"type"`
	// Emitting service
	Producer string `json:"producer,omitempty"`
	// Request correlation ID
	CorrelationID string    `json:"correlation_id,omitempty"`
	Time          time.Time `json:"time"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

const Producer = "relaydesk"

type ChatInboundV1 struct {
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"message_id"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	From              string    `json:"from"`
	ContactName       string    `json:"contact_name,omitempty"`
	Kind              string    `json:"kind"`
	ReceivedAt        time.Time `json:"received_at"`
}

type ChatOutboundV1 struct {
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"message_id"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	SenderID          string    `json:"sender_id"`
	To                string    `json:"to"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

type ChatReceiptV1 struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Recipient         string    `json:"recipient,omitempty"`
	AtProvider        string    `json:"at_provider,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

type ConversationUpdatedV1 struct {
	Conversation conversation.Conversation `json:"conversation"`
	Reason       string                    `json:"reason"`
	ActorID      string                    `json:"actor_id,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}
