package outbox

import (
	"context"
	"encoding/json"
	"time"

	"relaydesk/internal/domain/outbox"
	"relaydesk/internal/events"
	"relaydesk/internal/repository"
	"relaydesk/pkg/logger"

	"go.uber.org/zap"
)

type Processor struct {
	repo       repository.OutboxRepository
	publisher  events.Publisher
	log        *logger.Logger
	batchSize  int
	interval   time.Duration
	maxRetries int
}

func NewProcessor(repo repository.OutboxRepository, publisher events.Publisher, l *logger.Logger, batchSize int, interval time.Duration, maxRetries int) *Processor {
	return &Processor{
		repo:       repo,
		publisher:  publisher,
		log:        l,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes up to batchSize pending events and returns how many
// were delivered.
func (p *Processor) ProcessBatch(ctx context.Context) int {
	batch, err := p.repo.GetPending(ctx, p.batchSize)
	if err != nil {
		p.log.Logger.Warn("outbox fetch failed", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, e := range batch {
		if e.RetryCount >= p.maxRetries {
			_ = p.repo.MarkFailed(ctx, e.ID, "max retries exceeded")
			continue
		}
		if err := p.repo.MarkProcessing(ctx, e.ID); err != nil {
			continue
		}

		env := envelopeFor(e)
		if err := p.publisher.Publish(ctx, e.EventType, env); err != nil {
			p.log.Logger.Warn("outbox publish failed",
				zap.String("event_id", e.ID.String()),
				zap.String("event_type", e.EventType),
				zap.Int("retry_count", e.RetryCount),
				zap.Error(err),
			)
			if e.RetryCount+1 >= p.maxRetries {
				_ = p.repo.MarkFailed(ctx, e.ID, err.Error())
			} else {
				_ = p.repo.IncrementRetry(ctx, e.ID)
			}
			continue
		}

		_ = p.repo.MarkCompleted(ctx, e.ID)
		delivered++
	}
	return delivered
}

func envelopeFor(e outbox.Event) events.Envelope {
	var data json.RawMessage
	if json.Valid(e.Payload) {
		data = json.RawMessage(e.Payload)
	} else {
		data = json.RawMessage("{}")
	}
	return events.Envelope{
		Meta: events.Meta{
			ID:            e.ID.String(),
			Type:          e.EventType,
			Producer:      events.Producer,
			CorrelationID: e.AggregateID,
			Time:          e.CreatedAt.UTC(),
		},
		Data: data,
	}
}
