package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache memoizes serialized analytics responses in Redis.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ResponseCache{client: client, ttl: ttl}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil || key == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *ResponseCache) Set(ctx context.Context, key string, value []byte) {
	if c == nil || c.client == nil || key == "" || len(value) == 0 {
		return
	}
	c.client.Set(ctx, c.prefixed(key), value, c.ttl)
}

func (c *ResponseCache) prefixed(key string) string {
	return "resp:" + key
}
