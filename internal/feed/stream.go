package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"llmrouter/internal/storage"
)

const DefaultMaxLen = 10000

// Event is the payload published for every stored exchange.
type Event struct {
	ExchangeID  int64     `json:"exchange_id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

type StreamPublisher struct {
	redis  *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(rdb *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &StreamPublisher{redis: rdb, stream: strings.TrimSpace(stream), maxLen: maxLen}
}

func (p *StreamPublisher) Stream() string {
	return p.stream
}

func (p *StreamPublisher) Publish(ctx context.Context, ex storage.Exchange) (string, error) {
	if p == nil || p.redis == nil {
		return "", fmt.Errorf("publisher is nil")
	}
	payload, err := json.Marshal(Event{
		ExchangeID:  ex.ID,
		UserID:      ex.UserID,
		Provider:    ex.Provider,
		Prompt:      ex.Prompt,
		Response:    ex.Response,
		Timestamp:   ex.Timestamp.UTC(),
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload, "provider": ex.Provider},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Recent returns up to count events, newest first.
func (p *StreamPublisher) Recent(ctx context.Context, count int64) ([]Event, error) {
	msgs, err := p.redis.XRevRangeN(ctx, p.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		var b []byte
		switch v := m.Values["payload"].(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
