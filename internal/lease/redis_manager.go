package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "intake:lease:"

// renewScript extends the TTL only while the caller is still the holder.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while the caller is still the holder,
// so a slow worker can never clear a lease that expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager implements Manager on Redis. SET NX PX is the atomic
// "set iff absent" write, and key expiry is the passive lease expiry, so an
// expired lease and an absent lease are the same state.
type RedisManager struct {
	rdb *redis.Client
}

// NewRedisManager creates a Redis-backed lease manager.
func NewRedisManager(rdb *redis.Client) *RedisManager {
	return &RedisManager{rdb: rdb}
}

// Acquire attempts to claim the resource key for holderID.
func (m *RedisManager) Acquire(ctx context.Context, resourceKey, holderID string, ttl time.Duration) (*Lease, error) {
	ok, err := m.rdb.SetNX(ctx, redisKeyPrefix+resourceKey, holderID, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease acquire: %w", err)
	}
	if !ok {
		return nil, ErrDenied
	}

	now := time.Now()
	return &Lease{
		ResourceKey: resourceKey,
		HolderID:    holderID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// Renew extends the lease TTL while the caller still holds it.
func (m *RedisManager) Renew(ctx context.Context, l *Lease, ttl time.Duration) (*Lease, error) {
	res, err := renewScript.Run(ctx, m.rdb, []string{redisKeyPrefix + l.ResourceKey}, l.HolderID, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("lease renew: %w", err)
	}
	if res == 0 {
		return nil, ErrDenied
	}

	renewed := *l
	renewed.ExpiresAt = time.Now().Add(ttl)
	return &renewed, nil
}

// Release clears the lease if the caller is still the holder.
func (m *RedisManager) Release(ctx context.Context, l *Lease) error {
	_, err := releaseScript.Run(ctx, m.rdb, []string{redisKeyPrefix + l.ResourceKey}, l.HolderID).Int()
	if err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}
