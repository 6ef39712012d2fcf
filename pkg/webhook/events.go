package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/Mercury-nju/novamail-sub004/pkg/cache"
)

const (
	eventKeyPrefix = "webhook:event:"

	// processedTTL outlives any provider retry window (Stripe retries for up
	// to three days). Mutations are absolute sets, so a replay arriving
	// after the TTL is still harmless.
	processedTTL = 30 * 24 * time.Hour
)

// EventLog tracks processed webhook event ids in Redis so provider retries
// of the same event are applied at most once.
type EventLog struct {
	cache *cache.Client
}

// NewEventLog creates an event id log on Redis.
func NewEventLog(c *cache.Client) *EventLog {
	return &EventLog{cache: c}
}

// AlreadyProcessed reports whether the event id has been applied.
func (l *EventLog) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	exists, err := l.cache.Exists(ctx, eventKeyPrefix+eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event id: %w", err)
	}
	return exists, nil
}

// MarkProcessed records the event id after its mutation succeeded.
func (l *EventLog) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.cache.Set(ctx, eventKeyPrefix+eventID, "1", processedTTL); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}
