package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/domain/outbox"
)

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	FindByContact(ctx context.Context, contact string) (conversation.Conversation, error)
	// FindOrCreate returns the conversation for c.CustomerContact, inserting c
	// when none exists. The bool reports whether this call created it.
	FindOrCreate(ctx context.Context, c conversation.Conversation) (conversation.Conversation, bool, error)
	// TouchActivity records message activity and reopens a closed conversation.
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) (conversation.Conversation, error)
	UpdateFields(ctx context.Context, id uuid.UUID, patch conversation.Patch) (conversation.Conversation, error)
	List(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, int64, error)
}

type MessageRepository interface {
	Append(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	// UpdateStatusByProviderID reports whether a message matched.
	UpdateStatusByProviderID(ctx context.Context, providerID string, status message.Status) (bool, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]message.Message, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *outbox.Event) error
	GetPending(ctx context.Context, limit int) ([]outbox.Event, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
}
