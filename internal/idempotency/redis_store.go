package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTTL is how long a processed id is remembered. Scan lookback
	// windows are hours, so a week of memory is comfortably safe.
	DefaultTTL = 7 * 24 * time.Hour

	// keyPrefix namespaces idempotency keys in Redis.
	keyPrefix = "intake:processed:"
)

// RedisStore backs the idempotency contract with Redis. SETNX gives the
// atomic create-if-absent; the TTL is the retention policy.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: DefaultTTL}
}

// Has reports whether the id has been processed. Backend errors are logged
// and reported as unprocessed.
func (s *RedisStore) Has(ctx context.Context, id string) bool {
	n, err := s.rdb.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		logrus.Warnf("Idempotency check failed for %s, treating as unprocessed: %v", id, err)
		return false
	}
	return n > 0
}

// MarkProcessed records the id with SETNX. A key that was already present
// yields ErrAlreadyProcessed and keeps its original value.
func (s *RedisStore) MarkProcessed(ctx context.Context, id string, outcome Outcome) error {
	set, err := s.rdb.SetNX(ctx, keyPrefix+id, outcome.encode(), s.ttl).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrAlreadyProcessed
	}
	return nil
}
