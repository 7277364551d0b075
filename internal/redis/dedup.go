package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Key pattern: webhook:seen:{provider_message_id}, 24h TTL.
const defaultSeenTTL = 24 * time.Hour

// Deduper remembers provider message ids that were already ingested, so a
// webhook redelivery does not append the same inbound message twice.
type Deduper struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewDeduper(client *goredis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

func seenKey(providerID string) string {
	return fmt.Sprintf("webhook:seen:%s", providerID)
}

// FirstSeen claims providerID and reports whether this caller was first.
func (d *Deduper) FirstSeen(ctx context.Context, providerID string) (bool, error) {
	if providerID == "" {
		return true, nil
	}
	return d.client.SetNX(ctx, seenKey(providerID), time.Now().Unix(), d.ttl).Result()
}

// Forget releases a claim after a failed ingest so a redelivery is processed.
func (d *Deduper) Forget(ctx context.Context, providerID string) error {
	if providerID == "" {
		return nil
	}
	return d.client.Del(ctx, seenKey(providerID)).Err()
}
