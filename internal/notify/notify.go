// Package notify dispatches user notifications after the core transaction
// commits. Delivery is fire-and-forget; a failed dispatch never undoes a
// committed booking or transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ChannelInApp = "in-app"
	ChannelSMS   = "sms"

	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

type Message struct {
	UserID   uuid.UUID `json:"user_id"`
	Body     string    `json:"body"`
	Channel  string    `json:"channel"`
	Priority string    `json:"priority"`
	RefID    uuid.UUID `json:"ref_id"`
	QueuedAt time.Time `json:"queued_at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// queueKey is the list the notification workers BRPOP from.
const queueKey = "notifications:outbound"

// RedisNotifier pushes messages onto a Redis list consumed by the delivery
// workers (in-app fan-out and the SMS gateway).
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.LPush(ctx, queueKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Noop satisfies Notifier when no Redis is configured (tests, local runs).
type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }
