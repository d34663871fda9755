package sessionmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares the cluster-wide active-session count across
// processes via a single INCR/DECR key, following the connection-validation
// shape of the pack's redis_client.go (ping on construction, wrapped
// errors) rather than introducing a new idiom for it.
type RedisBackend struct {
	rdb *redis.Client
	key string
}

// NewRedisBackend dials addr and validates connectivity before returning.
func NewRedisBackend(addr, password string, db int, key string) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sessionmgr: redis ping failed: %w", err)
	}

	if key == "" {
		key = "turnmesh:active_sessions"
	}
	return &RedisBackend{rdb: rdb, key: key}, nil
}

func (b *RedisBackend) Incr(ctx context.Context) (int64, error) {
	return b.rdb.Incr(ctx, b.key).Result()
}

func (b *RedisBackend) Decr(ctx context.Context) (int64, error) {
	n, err := b.rdb.Decr(ctx, b.key).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		// Clock/ordering skew across processes can transiently push the
		// shared counter negative; clamp it back to zero rather than let
		// admission decisions see a bogus negative headroom.
		if resetErr := b.rdb.Set(ctx, b.key, 0, 0).Err(); resetErr == nil {
			n = 0
		}
	}
	return n, nil
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
