package outbox

import (
	"context"
	"time"

	"relaydesk/internal/events"
	"relaydesk/internal/repository"
	"relaydesk/pkg/logger"
)

type Runner struct {
	processor *Processor
}

func NewRunner(processor *Processor) *Runner {
	return &Runner{processor: processor}
}

func (r *Runner) Start(ctx context.Context) {
	go r.processor.Run(ctx)
}

func DefaultProcessor(repo repository.OutboxRepository, publisher events.Publisher, l *logger.Logger) *Processor {
	return NewProcessor(repo, publisher, l, 100, time.Second*2, 5)
}
