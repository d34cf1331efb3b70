package xcache

import (
	"context"
	log "log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache is a Cache[string, []byte] backed by a shared Redis instance,
// used when several processes read the same environment and want to share
// the string interner and GC utilization-profile entries.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to addr and returns a Cache[string, []byte] whose
// entries expire after ttl (zero means no expiration).
func NewRedisCache(addr, prefix string, ttl time.Duration) Cache[string, []byte] {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &redisCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *redisCache) key(k string) string {
	return c.prefix + k
}

func (c *redisCache) Clear() {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warn("xcache: redis scan failed", "err", err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			log.Warn("xcache: redis clear failed", "err", err)
		}
	}
}

func (c *redisCache) Set(items []Pair[string, []byte]) {
	ctx := context.Background()
	pipe := c.client.Pipeline()
	for _, it := range items {
		pipe.Set(ctx, c.key(it.Key), it.Value, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn("xcache: redis set failed", "err", err)
	}
}

func (c *redisCache) Get(keys []string) [][]byte {
	ctx := context.Background()
	r := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := c.client.Get(ctx, c.key(k)).Bytes()
		if err != nil {
			if err != redis.Nil {
				log.Warn("xcache: redis get failed", "err", err)
			}
			continue
		}
		r[i] = v
	}
	return r
}

func (c *redisCache) Delete(keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx := context.Background()
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		log.Warn("xcache: redis delete failed", "err", err)
	}
}

// Count is unsupported for the Redis backend without a full key scan; it
// always returns -1 rather than paying for a SCAN on every call.
func (c *redisCache) Count() int {
	return -1
}

func (c *redisCache) IsFull() bool {
	return false
}

func (c *redisCache) Evict() {
	// Redis TTLs handle eviction; nothing to do here.
}
