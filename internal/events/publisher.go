package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"relaydesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	exchange string
	log      *logger.Logger
}

type ConnectionOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

const maxDialDelay = 60 * time.Second

// NewAMQPPublisher connects with backoff and declares a durable topic exchange.
func NewAMQPPublisher(ctx context.Context, opts ConnectionOptions, l *logger.Logger) (Publisher, error) {
	conn, err := dialWithRetry(ctx, opts, l)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		opts.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: opts.Exchange,
		log:      l,
	}, nil
}

func dialWithRetry(ctx context.Context, opts ConnectionOptions, l *logger.Logger) (*amqp091.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error

	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				l.Logger.Info("amqp connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		l.Logger.Warn("amqp dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to AMQP after %d attempts: %w", attempts, lastErr)
}

func (r *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msg.Meta.CorrelationID
	if cid == "" {
		cid = msgID
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Type:          msg.Meta.Type,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		r.log.Logger.Debug("published", zap.String("key", key), zap.String("exchange", r.exchange))
	}
	return err
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}

// FallbackPublisher drops events when no broker is configured.
type FallbackPublisher struct {
	log *logger.Logger
}

func NewFallback(l *logger.Logger) Publisher {
	return &FallbackPublisher{log: l}
}

func (p *FallbackPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.log.Logger.Debug("fallback publisher: skipped publish", zap.String("key", key))
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
