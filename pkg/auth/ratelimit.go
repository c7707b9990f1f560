package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript updates a token bucket atomically in Redis.
// KEYS[1] = bucket key, ARGV = rate (tokens/s), capacity, cost, now.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 600)

return allowed
`)

// LimitPolicy is a per-minute budget with burst headroom.
type LimitPolicy struct {
	PerMinute int
	Burst     int
}

// Sensible defaults for the abuse-prone endpoints.
var (
	// LoginPolicy throttles credential guessing per (ip, email).
	LoginPolicy = LimitPolicy{PerMinute: 10, Burst: 5}
	// OTPPolicy throttles code requests and verifications per signer link.
	OTPPolicy = LimitPolicy{PerMinute: 6, Burst: 3}
)

// Limiter is a Redis-backed token bucket shared across workers.
// A nil client fails open: single-process deployments fall back to the
// per-IP limiter at the HTTP edge.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewLimiter wraps an optional Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Allow consumes one token from the named bucket. Errors fail open so a
// Redis outage degrades throttling, never availability.
func (l *Limiter) Allow(ctx context.Context, bucket string, policy LimitPolicy) bool {
	if l == nil || l.client == nil {
		return true
	}

	rate := float64(policy.PerMinute) / 60.0
	if rate <= 0 {
		rate = 1.0
	}
	capacity := policy.Burst
	if capacity <= 0 {
		capacity = 1
	}
	now := float64(l.now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{fmt.Sprintf("ratelimit:%s", bucket)},
		rate, capacity, 1, now).Int64()
	if err != nil {
		return true
	}
	return res == 1
}
