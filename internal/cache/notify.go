package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/penshort/insights/internal/model"
)

// eventChannelPrefix is the pub/sub channel prefix for insight events.
const eventChannelPrefix = "insights:events:"

// EventChannel returns the pub/sub channel carrying userID's events.
func EventChannel(userID string) string {
	return eventChannelPrefix + userID
}

// Notifier publishes insight events over Redis pub/sub.
type Notifier struct {
	client *redis.Client
}

// NewNotifier creates a Notifier on the cache's client.
func NewNotifier(c *Cache) *Notifier {
	return &Notifier{client: c.client}
}

// Publish sends ev to the user's channel. Delivery is at-most-once; pollers
// remain the source of truth.
func (n *Notifier) Publish(ctx context.Context, ev model.InsightsEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode insights event: %w", err)
	}
	if err := n.client.Publish(ctx, EventChannel(ev.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish insights event: %w", err)
	}
	return nil
}

// Subscribe listens on userID's channel. The caller must close the result.
func (n *Notifier) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return n.client.Subscribe(ctx, EventChannel(userID))
}

// DecodeEvent parses a message received from Subscribe.
func DecodeEvent(msg *redis.Message) (model.InsightsEvent, error) {
	var ev model.InsightsEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return ev, fmt.Errorf("decode insights event: %w", err)
	}
	return ev, nil
}
