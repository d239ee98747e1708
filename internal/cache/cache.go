// Package cache is the small key/value surface the engine needs beyond its
// dedicated stores: get, set with TTL, set-if-absent, remove and
// remove-by-pattern. Every key is namespaced under the configured prefix.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps every backend failure.
var ErrCacheUnavailable = errors.New("cache backend unavailable")

const scanBatch = 500

type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

func New(redisClient redis.UniversalClient, prefix string) *Cache {
	return &Cache{redis: redisClient, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + ":" + k
}

// Get reports ok=false for a missing key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.redis.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// SetNX stores value only if key is absent and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.redis.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return ok, nil
}

func (c *Cache) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if _, err := deleteEach(ctx, c.redis, full); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// RemoveByPattern deletes every key matching the glob pattern (relative to
// the prefix) and returns how many were removed. On a cluster client every
// master is scanned.
func (c *Cache) RemoveByPattern(ctx context.Context, pattern string) (int64, error) {
	match := c.key(pattern)

	var removed atomic.Int64
	scan := func(ctx context.Context, client redis.Cmdable) error {
		n, err := scanAndDelete(ctx, client, match)
		removed.Add(n)
		return err
	}

	var err error
	if cluster, ok := c.redis.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	} else {
		err = scan(ctx, c.redis)
	}
	if err != nil {
		return removed.Load(), fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return removed.Load(), nil
}

func scanAndDelete(ctx context.Context, client redis.Cmdable, match string) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := deleteEach(ctx, client, keys)
			removed += n
			if err != nil {
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// deleteEach pipelines one DEL per key; scanned keys may span cluster slots.
func deleteEach(ctx context.Context, client redis.Cmdable, keys []string) (int64, error) {
	cmds, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, k)
		}
		return nil
	})
	var n int64
	for _, cmd := range cmds {
		if del, ok := cmd.(*redis.IntCmd); ok {
			n += del.Val()
		}
	}
	return n, err
}
