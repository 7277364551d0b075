package services

import (
	"context"
	"encoding/json"
	"time"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/outbox"
	"relaydesk/internal/events"
	"relaydesk/internal/repository"
)

// Notifier fans an event out to every connection in a room.
type Notifier interface {
	Publish(room, event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Publish(room, event string, payload any) {}

func createOutboxEvent(ctx context.Context, repo repository.OutboxRepository, aggregateType, eventType, aggregateID string, payload interface{}) error {
	if repo == nil {
		return nil
	}
	data := []byte("{}")
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			data = raw
		}
	}
	return repo.Create(ctx, &outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Status:        outbox.StatusPending,
		CreatedAt:     time.Now().UTC(),
	})
}

func recordConversationUpdated(ctx context.Context, repo repository.OutboxRepository, conv conversation.Conversation, reason, actorID string) error {
	return createOutboxEvent(ctx, repo, events.AggregateConversation, events.EventTypeConversationUpdated, conv.ID.String(), events.ConversationUpdatedV1{
		Conversation: conv,
		Reason:       reason,
		ActorID:      actorID,
	})
}

// notifyConversationUpdated tells the conversation room, and the assignee's
// personal room when notifyAssignee is set.
func notifyConversationUpdated(notifier Notifier, conv conversation.Conversation, notifyAssignee bool) {
	notifier.Publish(events.ConversationRoom(conv.ID), events.RealtimeConversationUpdated, conv)
	if notifyAssignee && conv.AssignedTo != nil && *conv.AssignedTo != "" {
		notifier.Publish(events.UserRoom(*conv.AssignedTo), events.RealtimeConversationUpdated, conv)
	}
}

func activityReason(reopened bool) string {
	if reopened {
		return "reopened"
	}
	return "created"
}
