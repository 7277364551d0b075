package services

import (
	"context"
	"errors"
	"fmt"
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

// Deduper remembers inbound provider ids across webhook redeliveries.
type Deduper interface {
	FirstSeen(ctx context.Context, providerID string) (bool, error)
	Forget(ctx context.Context, providerID string) error
}

type WebhookService struct {
	convs       repository.ConversationRepository
	tx          repository.Transactor
	notifier    Notifier
	dedup       Deduper
	verifyToken string
	log         *logger.Logger
	now         func() time.Time
}

func NewWebhookService(
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	outboxRepo repository.OutboxRepository,
	notifier Notifier,
	dedup Deduper,
	verifyToken string,
	l *logger.Logger,
) *WebhookService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &WebhookService{
		convs:       convs,
		tx:          repository.DirectTransactor(repository.Stores{Conversations: convs, Messages: msgs, Outbox: outboxRepo}),
		notifier:    notifier,
		dedup:       dedup,
		verifyToken: verifyToken,
		log:         l,
		now:         time.Now,
	}
}

// WithTransactor makes each item's writes and its domain events commit
// together.
func (s *WebhookService) WithTransactor(tx repository.Transactor) *WebhookService {
	if tx != nil {
		s.tx = tx
	}
	return s
}

// IngestReport counts per-item outcomes of one webhook delivery.
type IngestReport struct {
	Messages   int `json:"messages"`
	Statuses   int `json:"statuses"`
	Duplicates int `json:"duplicates"`
	Unmatched  int `json:"unmatched"`
	Ignored    int `json:"ignored"`
	Failed     int `json:"failed"`
}

var errDuplicate = errors.New("duplicate inbound message")

// VerifySubscription answers the provider's subscription handshake.
func (s *WebhookService) VerifySubscription(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || s.verifyToken == "" || token != s.verifyToken {
		return "", desk_errors.ErrForbidden
	}
	return challenge, nil
}

// Ingest processes every item of a delivery in order. Item failures are
// logged and counted; they never abort siblings or surface to the caller.
func (s *WebhookService) Ingest(ctx context.Context, payload whatsapp.WebhookPayload) IngestReport {
	var report IngestReport
	if payload.Object != whatsapp.ObjectBusinessAccount {
		report.Ignored++
		return report
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != whatsapp.FieldMessages {
				report.Ignored++
				continue
			}
			value := change.Value

			for _, bad := range value.Malformed {
				report.Failed++
				s.log.WithContext(ctx).Logger.Error("webhook item undecodable",
					zap.String("item", bad.Kind),
					zap.Int("index", bad.Index),
					zap.Error(bad.Err),
				)
			}

			for _, msg := range value.Messages {
				err := s.ingestMessage(ctx, value, msg)
				switch {
				case err == nil:
					report.Messages++
				case errors.Is(err, errDuplicate):
					report.Duplicates++
				default:
					report.Failed++
					s.log.WithContext(ctx).Logger.Error("inbound message failed",
						zap.String("provider_message_id", msg.ID),
						zap.String("from", msg.From),
						zap.Error(err),
					)
				}
			}

			for _, st := range value.Statuses {
				matched, ignored, err := s.applyStatus(ctx, st)
				switch {
				case err != nil:
					report.Failed++
					s.log.WithContext(ctx).Logger.Error("status update failed",
						zap.String("provider_message_id", st.ID),
						zap.String("status", st.Status),
						zap.Error(err),
					)
				case ignored:
					report.Ignored++
				case !matched:
					report.Unmatched++
				default:
					report.Statuses++
				}
			}
		}
	}
	return report
}

func inboundKind(providerType string) message.Kind {
	switch providerType {
	case "image":
		return message.KindImage
	case "document":
		return message.KindDocument
	default:
		return message.KindText
	}
}

func (s *WebhookService) ingestMessage(ctx context.Context, value whatsapp.ChangeValue, msg whatsapp.InboundMessage) (err error) {
	if msg.From == "" {
		return fmt.Errorf("%w: inbound message without sender", desk_errors.ErrInvalidInput)
	}

	if s.dedup != nil && msg.ID != "" {
		first, dedupErr := s.dedup.FirstSeen(ctx, msg.ID)
		if dedupErr != nil {
			s.log.Logger.Warn("inbound dedup unavailable", zap.Error(dedupErr))
		} else if !first {
			return errDuplicate
		} else {
			defer func() {
				if err != nil && !errors.Is(err, errDuplicate) {
					_ = s.dedup.Forget(ctx, msg.ID)
				}
			}()
		}
	}

	name := value.ContactName(msg.From)
	if name == "" {
		name = msg.From
	}

	conv, created, err := s.convs.FindOrCreate(ctx, conversation.Conversation{
		CustomerContact: msg.From,
		CustomerName:    name,
		Status:          conversation.StatusOpen,
	})
	if err != nil {
		return fmt.Errorf("find or create conversation: %w", err)
	}
	wasClosed := conv.Status == conversation.StatusClosed

	content := msg.Body()
	if content == "" && msg.Type != "" && msg.Type != "text" {
		content = "[" + msg.Type + "]"
	}
	meta := &message.Metadata{
		ContactName:       name,
		ProviderTimestamp: msg.Timestamp,
	}
	if msg.Image != nil {
		meta.MediaKey = msg.Image.ID
	}
	if msg.Document != nil {
		meta.MediaKey = msg.Document.ID
		meta.FileName = msg.Document.Filename
	}

	now := s.now().UTC()
	m := &message.Message{
		ConversationID: conv.ID,
		SenderID:       msg.From,
		RecipientID:    message.RecipientSystem,
		Content:        content,
		Kind:           inboundKind(msg.Type),
		Status:         message.StatusDelivered,
		Metadata:       meta,
		CreatedAt:      now,
	}
	if msg.ID != "" {
		providerID := msg.ID
		m.ProviderMessageID = &providerID
	}

	// The message goes in before the conversation is touched: a redelivery
	// rejected on its provider id must not reopen or bump the conversation.
	var reopened bool
	err = s.tx.WithinTx(ctx, func(st repository.Stores) error {
		if err := st.Messages.Append(ctx, m); err != nil {
			if errors.Is(err, desk_errors.ErrAlreadyExists) {
				return errDuplicate
			}
			return fmt.Errorf("append message: %w", err)
		}
		touched, err := st.Conversations.TouchActivity(ctx, conv.ID, now)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		conv = touched
		reopened = wasClosed && conv.Status == conversation.StatusOpen

		if err := createOutboxEvent(ctx, st.Outbox, events.AggregateMessage, events.EventTypeChatInbound, m.ID.String(), events.ChatInboundV1{
			ConversationID:    conv.ID.String(),
			MessageID:         m.ID.String(),
			ProviderMessageID: msg.ID,
			From:              msg.From,
			ContactName:       name,
			Kind:              string(m.Kind),
			ReceivedAt:        now,
		}); err != nil {
			return fmt.Errorf("record inbound event: %w", err)
		}
		if created || reopened {
			return recordConversationUpdated(ctx, st.Outbox, conv, activityReason(reopened), "")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.Publish(events.ConversationRoom(conv.ID), events.RealtimeMessageNew, m)
	if created || reopened {
		notifyConversationUpdated(s.notifier, conv, created)
	}
	return nil
}

func (s *WebhookService) applyStatus(ctx context.Context, upd whatsapp.StatusUpdate) (matched bool, ignored bool, err error) {
	status, ok := message.StatusFromProvider(upd.Status)
	if !ok {
		return false, true, nil
	}
	err = s.tx.WithinTx(ctx, func(st repository.Stores) error {
		var err error
		matched, err = st.Messages.UpdateStatusByProviderID(ctx, upd.ID, status)
		if err != nil || !matched {
			return err
		}
		if err := createOutboxEvent(ctx, st.Outbox, events.AggregateMessage, events.EventTypeChatReceipt, upd.ID, events.ChatReceiptV1{
			ProviderMessageID: upd.ID,
			Status:            string(status),
			Recipient:         upd.RecipientID,
			AtProvider:        upd.Timestamp,
			ReceivedAt:        s.now().UTC(),
		}); err != nil {
			return fmt.Errorf("record receipt event: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return matched, false, nil
}
