package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisWebSocket publishes to a per-recipient Redis channel that websocket gateways subscribe to.
// A publish nobody receives is still a delivery: the recipient reads it from the inbox later.
type RedisWebSocket struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisWebSocket(rdb *redis.Client, prefix string) *RedisWebSocket {
	return &RedisWebSocket{rdb: rdb, prefix: prefix}
}

type socketFrame struct {
	NotificationID uint64            `json:"notification_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// Topic is the Redis channel for one recipient.
func (w *RedisWebSocket) Topic(msg Message) string {
	return fmt.Sprintf("%s:%s:%d", w.prefix, msg.RecipientType, msg.RecipientID)
}

func (w *RedisWebSocket) Send(ctx context.Context, msg Message) error {
	b, err := json.Marshal(socketFrame{
		NotificationID: msg.NotificationID,
		Title:          msg.Title,
		Body:           msg.Body,
		Properties:     msg.Properties,
	})
	if err != nil {
		return Permanent(err)
	}
	if err := w.rdb.Publish(ctx, w.Topic(msg), string(b)).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
