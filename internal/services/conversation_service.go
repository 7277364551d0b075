package services

import (
	"context"
	"fmt"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/repository"
	desk_errors "relaydesk/pkg/errors"
	"relaydesk/pkg/logger"

	"github.com/google/uuid"
)

const detailMessageLimit = 100

type ConversationService struct {
	convs    repository.ConversationRepository
	msgs     repository.MessageRepository
	tx       repository.Transactor
	notifier Notifier
	log      *logger.Logger
}

func NewConversationService(
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	outboxRepo repository.OutboxRepository,
	notifier Notifier,
	l *logger.Logger,
) *ConversationService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ConversationService{
		convs:    convs,
		msgs:     msgs,
		tx:       repository.DirectTransactor(repository.Stores{Conversations: convs, Messages: msgs, Outbox: outboxRepo}),
		notifier: notifier,
		log:      l,
	}
}

// WithTransactor makes each update and its domain event commit together.
func (s *ConversationService) WithTransactor(tx repository.Transactor) *ConversationService {
	if tx != nil {
		s.tx = tx
	}
	return s
}

type ConversationDetail struct {
	Conversation conversation.Conversation `json:"conversation"`
	Messages     []message.Message         `json:"messages"`
}

// List scopes client users to their own assignments.
func (s *ConversationService) List(ctx context.Context, subject Subject, filter conversation.ListFilter) ([]conversation.Conversation, int64, conversation.ListFilter, error) {
	filter = filter.Normalize()
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, filter, fmt.Errorf("%w: unknown status %q", desk_errors.ErrInvalidInput, filter.Status)
	}
	if subject.Role == RoleClientUser {
		filter.AssignedTo = subject.UserID
	}
	items, total, err := s.convs.List(ctx, filter)
	if err != nil {
		return nil, 0, filter, err
	}
	if items == nil {
		items = []conversation.Conversation{}
	}
	return items, total, filter, nil
}

func (s *ConversationService) Get(ctx context.Context, id uuid.UUID) (ConversationDetail, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return ConversationDetail{}, err
	}
	msgs, err := s.msgs.ListByConversation(ctx, id, detailMessageLimit)
	if err != nil {
		return ConversationDetail{}, err
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	return ConversationDetail{Conversation: conv, Messages: msgs}, nil
}

func (s *ConversationService) Update(ctx context.Context, subject Subject, id uuid.UUID, patch conversation.Patch) (conversation.Conversation, error) {
	if !subject.Role.Valid() {
		return conversation.Conversation{}, desk_errors.ErrForbidden
	}
	if err := patch.Validate(); err != nil {
		return conversation.Conversation{}, fmt.Errorf("%w: %v", desk_errors.ErrInvalidInput, err)
	}
	if patch.Empty() {
		return conversation.Conversation{}, fmt.Errorf("%w: nothing to update", desk_errors.ErrInvalidInput)
	}

	updated, err := s.update(ctx, id, patch, "updated", subject.UserID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	notifyConversationUpdated(s.notifier, updated, patch.AssignedTo != nil)
	return updated, nil
}

// Close is restricted to admin roles.
func (s *ConversationService) Close(ctx context.Context, subject Subject, id uuid.UUID) (conversation.Conversation, error) {
	if !subject.Role.IsAdmin() {
		return conversation.Conversation{}, desk_errors.ErrForbidden
	}
	closed := conversation.StatusClosed
	updated, err := s.update(ctx, id, conversation.Patch{Status: &closed}, "closed", subject.UserID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	notifyConversationUpdated(s.notifier, updated, false)
	return updated, nil
}

func (s *ConversationService) update(ctx context.Context, id uuid.UUID, patch conversation.Patch, reason, actorID string) (conversation.Conversation, error) {
	var updated conversation.Conversation
	err := s.tx.WithinTx(ctx, func(st repository.Stores) error {
		var err error
		updated, err = st.Conversations.UpdateFields(ctx, id, patch)
		if err != nil {
			return err
		}
		if err := recordConversationUpdated(ctx, st.Outbox, updated, reason, actorID); err != nil {
			return fmt.Errorf("record conversation event: %w", err)
		}
		return nil
	})
	return updated, err
}
