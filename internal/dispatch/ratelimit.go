package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket bounds dispatch throughput. Take atomically consumes n
// tokens; when denied it returns the suggested wait before retrying.
// Implementations must be safe for concurrent use without lost updates.
type TokenBucket interface {
	Take(ctx context.Context, n int) (allowed bool, wait time.Duration, err error)
}

// NewTokenBucket creates a bucket refilling at ratePerHour/3600 tokens per
// second with the given burst capacity. A non-nil Redis client selects the
// Lua-script bucket (shared across hosts); otherwise an in-process bucket
// is used.
func NewTokenBucket(redisClient *redis.Client, key string, ratePerHour, burst int) TokenBucket {
	if redisClient != nil {
		return NewRedisBucket(redisClient, key, ratePerHour, burst)
	}
	return NewMemoryBucket(ratePerHour, burst)
}

// Lua script for an atomic token bucket. State lives in a hash of
// {tokens, ts}; refill is computed from elapsed time so no background
// refiller is needed. The GET-check-INCR race is impossible because the
// whole read-refill-deduct cycle runs inside one script invocation.
const tokenBucketLuaScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])      -- tokens per second
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])       -- unix millis
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
    tokens = burst
    ts = now
end

local elapsed = math.max(0, now - ts) / 1000.0
tokens = math.min(burst, tokens + elapsed * rate)

if tokens < requested then
    local deficit = requested - tokens
    local waitMs = math.ceil(deficit / rate * 1000)
    redis.call("HMSET", key, "tokens", tokens, "ts", now)
    redis.call("EXPIRE", key, ttl)
    return {0, waitMs}
end

tokens = tokens - requested
redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, ttl)
return {1, 0}
`

// RedisBucket is a token bucket shared across processes via a Redis Lua
// script, for fleets where several workers dispatch the same campaign.
type RedisBucket struct {
	redis  *redis.Client
	script *redis.Script
	key    string
	rate   float64 // tokens per second
	burst  int
}

// NewRedisBucket creates a Redis-backed bucket under the given key.
func NewRedisBucket(redisClient *redis.Client, key string, ratePerHour, burst int) *RedisBucket {
	return &RedisBucket{
		redis:  redisClient,
		script: redis.NewScript(tokenBucketLuaScript),
		key:    fmt.Sprintf("ratelimit:bucket:%s", key),
		rate:   float64(ratePerHour) / 3600.0,
		burst:  burst,
	}
}

// Take implements TokenBucket.
func (b *RedisBucket) Take(ctx context.Context, n int) (bool, time.Duration, error) {
	result, err := b.script.Run(ctx, b.redis,
		[]string{b.key},
		b.rate,
		b.burst,
		time.Now().UnixMilli(),
		n,
		7200, // seconds; idle buckets expire after two hours
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket check failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	if allowed {
		return true, 0, nil
	}
	waitMs := result[1].(int64)
	return false, time.Duration(waitMs) * time.Millisecond, nil
}

// MemoryBucket is a mutex-guarded in-process token bucket, used when no
// Redis is configured (single-host and test deployments).
type MemoryBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64

	now func() time.Time // injectable for tests
}

// NewMemoryBucket creates an in-process bucket starting at full burst.
func NewMemoryBucket(ratePerHour, burst int) *MemoryBucket {
	return &MemoryBucket{
		tokens: float64(burst),
		last:   time.Now(),
		rate:   float64(ratePerHour) / 3600.0,
		burst:  float64(burst),
		now:    time.Now,
	}
}

// Take implements TokenBucket.
func (b *MemoryBucket) Take(_ context.Context, n int) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = minFloat(b.burst, b.tokens+elapsed*b.rate)
	}
	b.last = now

	need := float64(n)
	if b.tokens < need {
		wait := time.Duration((need - b.tokens) / b.rate * float64(time.Second))
		return false, wait, nil
	}
	b.tokens -= need
	return true, 0, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
