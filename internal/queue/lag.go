package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagMetrics captures backlog for a consumer group.
type LagMetrics struct {
	Pending    int64         `json:"pending"`
	Lag        int64         `json:"lag"`
	Consumers  int64         `json:"consumers"`
	OldestIdle time.Duration `json:"oldest_idle"`
}

// GroupLag reports pending and unread counts for group on stream. Lag is -1
// when the group is unknown.
func GroupLag(ctx context.Context, client redis.Cmdable, stream, group string) (LagMetrics, error) {
	if stream == "" || group == "" {
		return LagMetrics{}, fmt.Errorf("stream and group are required")
	}
	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	m := LagMetrics{Lag: -1}
	for _, info := range groups {
		if info.Name == group {
			m.Pending = info.Pending
			m.Lag = info.Lag
			m.Consumers = int64(info.Consumers)
			break
		}
	}
	if m.Pending > 0 {
		entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream, Group: group, Start: "-", End: "+", Count: 1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return LagMetrics{}, fmt.Errorf("xpendingext: %w", err)
		}
		if len(entries) > 0 {
			m.OldestIdle = entries[0].Idle
		}
	}
	return m, nil
}
