package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// UploadLimiter is a distributed token bucket in Redis, keyed per client, so
// the limit holds across api replicas.
type UploadLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewUploadLimiter constructs a bucket with the provided capacity/refill.
func NewUploadLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *UploadLimiter {
	return &UploadLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the client if available.
func (l *UploadLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client,
		[]string{"uploads:rl:" + clientKey},
		l.capacity, l.refill, now, l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return false, err
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, nil
	}
	return allowed == 1, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return allowed
`)
