// Package queue consumes candidate payloads from a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dronewatch.eu/core/internal/globaltime"
)

const (
	DeadLetterRejected = "rejected"
	DeadLetterFailed   = "failed"

	defaultBlockTimeout = 5 * time.Second
	maxReasonLength     = 2000
)

// Config configures the Redis consumer.
type Config struct {
	Key          string
	BlockTimeout time.Duration
}

// Consumer pops payloads from a Redis list. Payloads that cannot be processed
// are pushed to "<key>:rejected" or "<key>:failed" with the reason attached.
type Consumer struct {
	client       redis.UniversalClient
	key          string
	blockTimeout time.Duration
}

type deadLetter struct {
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload string          `json:"raw_payload,omitempty"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failed_at"`
}

// NewConsumer creates a consumer for list-based queues.
func NewConsumer(client redis.UniversalClient, cfg Config) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	return &Consumer{
		client:       client,
		key:          key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

func (c *Consumer) Key() string {
	return c.key
}

// Pop pops one payload. It returns nil, nil when the block timeout passes
// without a message.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Push appends payloads to the tail of the queue.
func (c *Consumer) Push(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]any, len(payloads))
	for i, payload := range payloads {
		values[i] = string(payload)
	}
	if err := c.client.RPush(ctx, c.key, values...).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", c.key, err)
	}
	return nil
}

// DeadLetter parks a payload on "<key>:<kind>".
func (c *Consumer) DeadLetter(ctx context.Context, kind string, payload []byte, cause error) error {
	target := c.DeadLetterKey(kind)
	entry := deadLetter{FailedAt: globaltime.UTC()}
	if json.Valid(payload) {
		entry.Payload = json.RawMessage(payload)
	} else {
		entry.RawPayload = string(payload)
	}
	if cause != nil {
		entry.Reason = truncate(cause.Error(), maxReasonLength)
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := c.client.RPush(ctx, target, string(encoded)).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", target, err)
	}
	return nil
}

func (c *Consumer) DeadLetterKey(kind string) string {
	return c.key + ":" + kind
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	return c.client.Close()
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
