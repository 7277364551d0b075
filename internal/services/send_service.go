package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/events"
	"relaydesk/internal/provider/whatsapp"
	"relaydesk/internal/repository"
	desk_errors "relaydesk/pkg/errors"
	"relaydesk/pkg/logger"

	"go.uber.org/zap"
)

type SendInput struct {
	To               string
	Content          string
	Kind             string
	MediaKey         string
	FileName         string
	TemplateName     string
	TemplateLanguage string
}

type SendResult struct {
	Message      message.Message           `json:"message"`
	Conversation conversation.Conversation `json:"conversation"`
}

type SendService struct {
	convs    repository.ConversationRepository
	msgs     repository.MessageRepository
	tx       repository.Transactor
	gateway  whatsapp.Gateway
	media    *MediaService
	notifier Notifier
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewSendService(
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	outboxRepo repository.OutboxRepository,
	gateway whatsapp.Gateway,
	media *MediaService,
	notifier Notifier,
	timeout time.Duration,
	l *logger.Logger,
) *SendService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SendService{
		convs:    convs,
		msgs:     msgs,
		tx:       repository.DirectTransactor(repository.Stores{Conversations: convs, Messages: msgs, Outbox: outboxRepo}),
		gateway:  gateway,
		media:    media,
		notifier: notifier,
		timeout:  timeout,
		log:      l,
		now:      time.Now,
	}
}

// WithTransactor makes the message record and its domain events commit
// together.
func (s *SendService) WithTransactor(tx repository.Transactor) *SendService {
	if tx != nil {
		s.tx = tx
	}
	return s
}

func (in SendInput) validate() (message.Kind, error) {
	if strings.TrimSpace(in.To) == "" {
		return "", fmt.Errorf("%w: recipient is required", desk_errors.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Content) == "" {
		return "", fmt.Errorf("%w: content is required", desk_errors.ErrInvalidInput)
	}
	kind, ok := message.ParseKind(in.Kind)
	if !ok {
		return "", fmt.Errorf("%w: unknown message kind %q", desk_errors.ErrInvalidInput, in.Kind)
	}
	switch {
	case kind == message.KindTemplate && in.TemplateName == "":
		return "", fmt.Errorf("%w: template name is required", desk_errors.ErrInvalidInput)
	case kind.IsMedia() && in.MediaKey == "":
		return "", fmt.Errorf("%w: media key is required for %s messages", desk_errors.ErrInvalidInput, kind)
	}
	return kind, nil
}

// Send records the outbound message whether or not the provider accepts
// it. A provider failure yields a failed message, not an error.
func (s *SendService) Send(ctx context.Context, subject Subject, in SendInput) (SendResult, error) {
	kind, err := in.validate()
	if err != nil {
		return SendResult{}, err
	}
	to := strings.TrimSpace(in.To)
	content := in.Content

	// The record is written even if the caller goes away mid-send, so the
	// provider call and the writes after it ignore request cancellation.
	ctx = context.WithoutCancel(ctx)

	meta := &message.Metadata{
		MediaKey:         in.MediaKey,
		FileName:         in.FileName,
		TemplateName:     in.TemplateName,
		TemplateLanguage: in.TemplateLanguage,
	}
	if kind.IsMedia() {
		link, err := s.media.ResolveLink(ctx, in.MediaKey)
		if err != nil {
			return SendResult{}, err
		}
		meta.MediaURL = link
	}

	assignee := subject.UserID
	conv, created, err := s.convs.FindOrCreate(ctx, conversation.Conversation{
		CustomerContact: to,
		CustomerName:    to,
		AssignedTo:      &assignee,
		Status:          conversation.StatusOpen,
	})
	if err != nil {
		return SendResult{}, err
	}
	wasClosed := conv.Status == conversation.StatusClosed

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result := s.gateway.Send(sendCtx, whatsapp.OutboundMessage{
		To:               to,
		Kind:             string(kind),
		Text:             content,
		MediaURL:         meta.MediaURL,
		FileName:         in.FileName,
		TemplateName:     in.TemplateName,
		TemplateLanguage: in.TemplateLanguage,
	})
	cancel()

	now := s.now().UTC()
	m := &message.Message{
		ConversationID: conv.ID,
		SenderID:       subject.UserID,
		RecipientID:    to,
		Content:        content,
		Kind:           kind,
		Status:         message.StatusSent,
		Metadata:       meta,
		CreatedAt:      now,
	}
	if result.OK() {
		providerID := result.MessageID
		m.ProviderMessageID = &providerID
	} else {
		m.Status = message.StatusFailed
		meta.FailureReason = result.FailureReason()
		s.log.WithContext(ctx).Logger.Warn("outbound send failed",
			zap.String("conversation_id", conv.ID.String()),
			zap.String("to", to),
			zap.String("reason", meta.FailureReason),
		)
	}
	if meta.IsZero() {
		m.Metadata = nil
	}

	var reopened bool
	err = s.tx.WithinTx(ctx, func(st repository.Stores) error {
		touched, err := st.Conversations.TouchActivity(ctx, conv.ID, now)
		if err != nil {
			return err
		}
		conv = touched
		reopened = wasClosed && conv.Status == conversation.StatusOpen

		if err := st.Messages.Append(ctx, m); err != nil {
			return fmt.Errorf("append message: %w", err)
		}

		outbound := events.ChatOutboundV1{
			ConversationID: conv.ID.String(),
			MessageID:      m.ID.String(),
			SenderID:       subject.UserID,
			To:             to,
			Kind:           string(kind),
			Status:         string(m.Status),
			FailureReason:  meta.FailureReason,
			SentAt:         m.CreatedAt,
		}
		if m.ProviderMessageID != nil {
			outbound.ProviderMessageID = *m.ProviderMessageID
		}
		if err := createOutboxEvent(ctx, st.Outbox, events.AggregateMessage, events.EventTypeChatOutbound, m.ID.String(), outbound); err != nil {
			return fmt.Errorf("record outbound event: %w", err)
		}
		if created || reopened {
			return recordConversationUpdated(ctx, st.Outbox, conv, activityReason(reopened), subject.UserID)
		}
		return nil
	})
	if err != nil {
		return SendResult{}, err
	}

	s.notifier.Publish(events.ConversationRoom(conv.ID), events.RealtimeMessageNew, m)
	if created || reopened {
		notifyConversationUpdated(s.notifier, conv, created)
	}
	return SendResult{Message: *m, Conversation: conv}, nil
}
