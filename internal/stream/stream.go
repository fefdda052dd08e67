// Package stream publishes simulated events to a Redis stream.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capisim/capisim/internal/model"
)

const (
	// DefaultStreamKey is the Redis stream events are appended to.
	DefaultStreamKey = "stream:sim_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000
)

// EventPayload is the compact event form written to the stream.
type EventPayload struct {
	EventName string   `json:"n"`
	EventID   *string  `json:"id"`
	EventTime int64    `json:"t"`
	SKU       string   `json:"sku,omitempty"`
	Value     *float64 `json:"v"`
	Currency  *string  `json:"c"`
	Price     *float64 `json:"p"`
	UserKeys  []string `json:"uk,omitempty"`
}

// Publisher appends events to a Redis stream.
type Publisher struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL, streamKey string) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewWithClient(client, streamKey), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, streamKey string) *Publisher {
	if streamKey == "" {
		streamKey = DefaultStreamKey
	}
	return &Publisher{client: client, key: streamKey}
}

// Name implements dispatch.Sink.
func (p *Publisher) Name() model.SinkName { return model.SinkStream }

// Send implements dispatch.Sink.
func (p *Publisher) Send(ctx context.Context, ev model.Event) error {
	_, err := p.Publish(ctx, ev)
	return err
}

// Publish appends ev and returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) (string, error) {
	data, err := json.Marshal(toPayload(ev))
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.key,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"event_name": string(ev.EventName),
			"payload":    string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Recent returns up to n of the newest payloads, newest first.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]EventPayload, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.key, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}

	out := make([]EventPayload, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var payload EventPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", msg.ID, err)
		}
		out = append(out, payload)
	}
	return out, nil
}

// Ping checks Redis connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func toPayload(ev model.Event) EventPayload {
	payload := EventPayload{
		EventName: string(ev.EventName),
		EventTime: ev.EventTime,
		SKU:       ev.SKU,
		EventID:   ptr(ev.EventID),
		Value:     ptr(ev.CustomData.Value),
		Currency:  ptr(ev.CustomData.Currency),
		Price:     ptr(ev.CustomData.Price),
	}
	for _, f := range ev.UserData.Present().Fields() {
		payload.UserKeys = append(payload.UserKeys, f.String())
	}
	return payload
}

func ptr[T any](n model.Nullable[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}
