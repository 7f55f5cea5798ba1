package limits

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 150 * time.Millisecond

// slidingWindowScript prunes expired attempts, admits the new one only while
// the window has room, refreshes the key TTL and reports the oldest score.
// Returns {allowed, count, reset_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisBackend keeps a sorted set of attempt timestamps per key and evaluates
// the sliding window atomically in a server-side script.
type RedisBackend struct {
	client    *redis.Client
	opTimeout time.Duration
}

func NewRedisBackend(client *redis.Client, opTimeout time.Duration) *RedisBackend {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisBackend{client: client, opTimeout: opTimeout}
}

func (b *RedisBackend) Hit(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, fmt.Errorf("%w: redis client not configured", ErrCacheUnavailable)
	}
	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	nowMs := now.UnixMilli()
	windowMs := rule.Window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(opCtx, b.client, []string{key},
		nowMs, windowMs, rule.Limit, member,
	).Int64Slice()
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrCacheUnavailable, res)
	}

	resetAt := time.UnixMilli(res[2])
	if res[0] == 0 {
		return Decision{Allowed: false, Limit: rule.Limit, Remaining: 0, ResetAt: resetAt}, nil
	}
	remaining := rule.Limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: remaining, ResetAt: resetAt}, nil
}
