package entropy

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window tracks per-(tenant,agent) request arrival timestamps in a
// Redis sorted set, scored by Unix-nanosecond timestamp, so
// RequestsInLastHour can be computed with a single ZCOUNT regardless
// of which coordinator replica records the arrival.
type Window struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewWindow(rdb *redis.Client) *Window {
	return &Window{rdb: rdb, ttl: 2 * time.Hour}
}

func key(tenantID, agentID string) string {
	return fmt.Sprintf("entropy:velocity:%s:%s", tenantID, agentID)
}

// Record appends an arrival and prunes entries older than the window.
func (w *Window) Record(ctx context.Context, tenantID, agentID string, at time.Time) error {
	k := key(tenantID, agentID)
	member := fmt.Sprintf("%d", at.UnixNano())
	pipe := w.rdb.Pipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", at.Add(-time.Hour).UnixNano()))
	pipe.Expire(ctx, k, w.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RequestsInLastHour counts entries within the trailing hour of `now`.
func (w *Window) RequestsInLastHour(ctx context.Context, tenantID, agentID string, now time.Time) (int, error) {
	k := key(tenantID, agentID)
	n, err := w.rdb.ZCount(ctx, k,
		fmt.Sprintf("%d", now.Add(-time.Hour).UnixNano()),
		fmt.Sprintf("%d", now.UnixNano()),
	).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
