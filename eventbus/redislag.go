package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagStore reports a subscriber's queue depth to a shared store, so a
// dashboard or autoscaler watching multiple bus replicas can see aggregate
// subscriber lag rather than just one process's in-memory view. The
// production default is no LagStore at all — the in-process bus tracks its
// own queue depth regardless; this is strictly additive, optional fan-out.
type LagStore interface {
	ReportLag(ctx context.Context, subscriberID string, depth int) error
	Lag(ctx context.Context, subscriberID string) (int, error)
}

// RedisLagStore persists subscriber lag in Redis, keyed per subscriber ID
// under a shared prefix, with a TTL so a crashed replica's stale lag value
// expires instead of lingering.
type RedisLagStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLagStore wraps an existing *redis.Client (including one pointed
// at a miniredis instance in tests). ttl <= 0 defaults to 30s.
func NewRedisLagStore(client *redis.Client, prefix string, ttl time.Duration) *RedisLagStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLagStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLagStore) key(subscriberID string) string {
	return fmt.Sprintf("%s:lag:%s", r.prefix, subscriberID)
}

func (r *RedisLagStore) ReportLag(ctx context.Context, subscriberID string, depth int) error {
	return r.client.Set(ctx, r.key(subscriberID), depth, r.ttl).Err()
}

func (r *RedisLagStore) Lag(ctx context.Context, subscriberID string) (int, error) {
	return r.client.Get(ctx, r.key(subscriberID)).Int()
}
