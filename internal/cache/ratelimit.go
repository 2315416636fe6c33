package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// refreshKeyPrefix is the Redis key prefix for per-user refresh buckets.
	refreshKeyPrefix = "refresh:user:"
	// refreshBucketTTL bounds how long an idle bucket is kept.
	refreshBucketTTL = 2 * time.Hour
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	// Degraded is set when Redis could not be reached and the check failed open.
	Degraded bool
}

// tokenBucketScript is a Lua script implementing the token bucket algorithm.
// It's atomic and handles token refill and consumption in a single operation.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per second
	local burst = tonumber(ARGV[2])     -- max tokens (bucket capacity)
	local now = tonumber(ARGV[3])       -- current time in seconds
	local ttl = tonumber(ARGV[4])       -- TTL in seconds

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	local elapsed = math.max(0, now - last_update)
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_after = 0

	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_after = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// CheckRefreshLimit consumes one forced-refresh token for userID.
// A non-positive ratePerHour disables the limit. Redis errors fail open.
func (c *Cache) CheckRefreshLimit(ctx context.Context, userID string, ratePerHour, burst int) *RateLimitResult {
	if ratePerHour <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst)}
	}
	if burst < 1 {
		burst = 1
	}

	rate := float64(ratePerHour) / 3600.0
	result, err := tokenBucketScript.Run(ctx, c.client,
		[]string{refreshKey(userID)},
		rate, burst, time.Now().Unix(), int(refreshBucketTTL.Seconds()),
	).Int64Slice()
	if err != nil || len(result) != 3 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), Degraded: true}
	}

	return &RateLimitResult{
		Allowed:    result[0] == 1,
		RetryAfter: time.Duration(result[1]) * time.Second,
		Remaining:  result[2],
	}
}

func refreshKey(userID string) string {
	return refreshKeyPrefix + userID
}
