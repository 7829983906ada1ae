package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a multi-instance Store. Windows are INCR counters with a TTL set
// on first hit; block markers carry their own deadline as the value so
// readers do not depend on clock agreement with the Redis server.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "auth"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	counterKey := r.prefix + ":win:" + key

	count, err := r.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", counterKey, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, counterKey, window).Err(); err != nil {
			return 0, fmt.Errorf("expire %s: %w", counterKey, err)
		}
	}

	return int(count), nil
}

func (r *Redis) Block(ctx context.Context, key string, until time.Time) error {
	blockKey := r.prefix + ":blk:" + key

	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}

	value := strconv.FormatInt(until.UTC().Unix(), 10)
	if err := r.client.Set(ctx, blockKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", blockKey, err)
	}

	return nil
}

func (r *Redis) BlockedUntil(ctx context.Context, key string) (time.Time, bool, error) {
	blockKey := r.prefix + ":blk:" + key

	value, err := r.client.Get(ctx, blockKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get %s: %w", blockKey, err)
	}

	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse block deadline %q: %w", value, err)
	}

	until := time.Unix(unix, 0).UTC()
	if !time.Now().UTC().Before(until) {
		return time.Time{}, false, nil
	}

	return until, true, nil
}
