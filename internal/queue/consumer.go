package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

// Message is a decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Consumer reads envelopes through a consumer group. Entries that cannot be
// decoded or fail validation are acknowledged and dropped.
type Consumer struct {
	client   redis.Cmdable
	registry *SchemaRegistry
	stream   string
	group    string
	name     string
	metrics  *telemetry.Metrics
	logger   *log.Logger
}

// NewConsumer builds a consumer named name in group.
func NewConsumer(client redis.Cmdable, registry *SchemaRegistry, stream, group, name string, metrics *telemetry.Metrics, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.New(log.Writer(), "[QUEUE] ", log.LstdFlags)
	}
	return &Consumer{client: client, registry: registry, stream: stream, group: group, name: name, metrics: metrics, logger: logger}
}

// EnsureGroup creates the consumer group and stream if missing.
func EnsureGroup(ctx context.Context, client redis.Cmdable, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read blocks up to block for at most count new entries.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	if c.group == "" || c.name == "" {
		return nil, fmt.Errorf("consumer group and name must be configured")
	}
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var out []Message
	for _, st := range res {
		for _, msg := range st.Messages {
			if decoded, ok := c.decode(ctx, msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

// Reclaim takes over entries another consumer left pending for at least minIdle.
func (c *Consumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	var out []Message
	for _, msg := range msgs {
		if decoded, ok := c.decode(ctx, msg); ok {
			out = append(out, decoded)
		}
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	c.metrics.QueueEvent("acked")
	return nil
}

func (c *Consumer) decode(ctx context.Context, msg redis.XMessage) (Message, bool) {
	env, err := envelopeFromValues(msg.Values)
	if err == nil && c.registry != nil {
		err = c.registry.Validate(env.EventType, env.PayloadVersion, env.Data)
	}
	if err != nil {
		c.logger.Printf("dropping entry %s: %v", msg.ID, err)
		c.metrics.QueueEvent("dropped")
		_ = c.client.XAck(ctx, c.stream, c.group, msg.ID).Err()
		return Message{}, false
	}
	return Message{ID: msg.ID, Envelope: env}, true
}

func envelopeFromValues(values map[string]interface{}) (Envelope, error) {
	raw, ok := values["envelope"]
	if !ok {
		return Envelope{}, fmt.Errorf("entry has no envelope field")
	}
	switch v := raw.(type) {
	case string:
		return decodeEnvelope([]byte(v))
	case []byte:
		return decodeEnvelope(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, err
		}
		return decodeEnvelope(data)
	}
}
