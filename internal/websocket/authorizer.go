package websocket

import (
	"context"
	"errors"

	"relaydesk/internal/repository"
	"relaydesk/internal/services"
	desk_errors "relaydesk/pkg/errors"

	"github.com/google/uuid"
)

// Authorizer decides whether a subject may join a conversation room.
type Authorizer interface {
	CanJoin(ctx context.Context, subject services.Subject, conversationID uuid.UUID) (bool, error)
}

// ConversationAuthorizer admits any verified subject to an existing
// conversation. In strict mode only the assignee and admins are admitted.
type ConversationAuthorizer struct {
	convs  repository.ConversationRepository
	strict bool
}

func NewConversationAuthorizer(convs repository.ConversationRepository, strict bool) *ConversationAuthorizer {
	return &ConversationAuthorizer{convs: convs, strict: strict}
}

func (a *ConversationAuthorizer) CanJoin(ctx context.Context, subject services.Subject, conversationID uuid.UUID) (bool, error) {
	conv, err := a.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, desk_errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !a.strict || subject.Role.IsAdmin() {
		return true, nil
	}
	return conv.AssignedTo != nil && *conv.AssignedTo == subject.UserID, nil
}
