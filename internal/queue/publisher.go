package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

// Publisher appends validated envelopes to a stream.
type Publisher struct {
	client   redis.Cmdable
	registry *SchemaRegistry
	stream   string
	maxLen   int64
	metrics  *telemetry.Metrics
}

// NewPublisher creates a Publisher for stream. maxLen > 0 trims the stream
// approximately.
func NewPublisher(client redis.Cmdable, registry *SchemaRegistry, stream string, maxLen int64, metrics *telemetry.Metrics) *Publisher {
	return &Publisher{client: client, registry: registry, stream: stream, maxLen: maxLen, metrics: metrics}
}

// Stream returns the target stream name.
func (p *Publisher) Stream() string { return p.stream }

// Publish validates env against the registry and XADDs it.
func (p *Publisher) Publish(ctx context.Context, env Envelope) (string, error) {
	if p.stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if err := env.validate(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.metrics.QueueEvent("publish_failed")
		return "", fmt.Errorf("xadd: %w", err)
	}
	p.metrics.QueueEvent("published")
	return id, nil
}

// PublishRun enqueues a run request.
func (p *Publisher) PublishRun(ctx context.Context, req RunRequest) (string, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal run request: %w", err)
	}
	return p.Publish(ctx, Envelope{
		EventType:      EventRunRequested,
		PayloadVersion: PayloadV1,
		Data:           data,
	})
}
