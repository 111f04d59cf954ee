// Package queue publishes billing events to a Redis stream for downstream
// consumers. Delivery to the stream is at most once per event id.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one provider notification as it travels on the stream.
type Event struct {
	StreamID      string    `json:"streamId,omitempty"`
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	CustomerID    string    `json:"customerId,omitempty"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	Created       time.Time `json:"created"`
	Payload       string    `json:"payload,omitempty"`
}

type StreamConfig struct {
	Stream    string
	MaxLen    int64
	DedupeTTL time.Duration
}

// RedisEventStream appends events to a capped Redis stream, skipping ids it
// has already seen within DedupeTTL.
type RedisEventStream struct {
	client    redis.Cmdable
	stream    string
	maxLen    int64
	dedupeTTL time.Duration
}

func NewRedisEventStream(client redis.Cmdable, cfg StreamConfig) (*RedisEventStream, error) {
	if client == nil {
		return nil, errors.New("event stream requires a redis client")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream name required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisEventStream{client: client, stream: stream, maxLen: maxLen, dedupeTTL: ttl}, nil
}

// Publish appends ev unless an event with the same id was already
// published. It reports whether the event was appended.
func (s *RedisEventStream) Publish(ctx context.Context, ev Event) (bool, error) {
	ev.ID = strings.TrimSpace(ev.ID)
	if ev.ID == "" {
		return false, errors.New("event id required")
	}
	if ev.Created.IsZero() {
		ev.Created = time.Now().UTC()
	}
	seenKey := s.seenKey(ev.ID)
	fresh, err := s.client.SetNX(ctx, seenKey, "1", s.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe event: %w", err)
	}
	if !fresh {
		return false, nil
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":       ev.ID,
			"type":           ev.Type,
			"customer_id":    ev.CustomerID,
			"customer_email": ev.CustomerEmail,
			"created":        ev.Created.UTC().Format(time.RFC3339),
			"payload":        ev.Payload,
		},
	}).Err(); err != nil {
		// let a provider retry get through
		_ = s.client.Del(ctx, seenKey).Err()
		return false, fmt.Errorf("append event: %w", err)
	}
	return true, nil
}

// Range returns up to count events with stream ids after afterID, oldest
// first. An empty afterID starts at the beginning.
func (s *RedisEventStream) Range(ctx context.Context, afterID string, count int64) ([]Event, error) {
	start := "-"
	if afterID = strings.TrimSpace(afterID); afterID != "" {
		start = "(" + afterID
	}
	if count <= 0 {
		count = 100
	}
	msgs, err := s.client.XRangeN(ctx, s.stream, start, "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeEvent(msg))
	}
	return out, nil
}

func (s *RedisEventStream) seenKey(id string) string {
	return fmt.Sprintf("%s:seen:%s", s.stream, id)
}

func decodeEvent(msg redis.XMessage) Event {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	ev := Event{
		StreamID:      msg.ID,
		ID:            str("event_id"),
		Type:          str("type"),
		CustomerID:    str("customer_id"),
		CustomerEmail: str("customer_email"),
		Payload:       str("payload"),
	}
	if t, err := time.Parse(time.RFC3339, str("created")); err == nil {
		ev.Created = t
	}
	return ev
}
