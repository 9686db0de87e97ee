package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// tokenBucketScript refills a per-key bucket at rate tokens per second
// up to capacity and takes requested tokens when available. It returns
// {allowed, remaining, retry_after_seconds}.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_after = 0

if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 3600)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter is a token bucket shared across instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	qps    int
	now    func() time.Time
}

// NewRedisLimiter allows qps requests per second per key with bursts of
// twice that.
func NewRedisLimiter(client *redis.Client, prefix string, qps int) *RedisLimiter {
	if qps <= 0 {
		qps = 1
	}
	return &RedisLimiter{client: client, prefix: prefix, qps: qps, now: time.Now}
}

// Allow takes one token from key's bucket.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	capacity := 2 * l.qps
	now := float64(l.now().UnixNano()) / 1e9
	res, err := l.client.Eval(ctx, tokenBucketScript, []string{l.prefix + key},
		capacity, float64(l.qps), now, 1).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	d := Decision{Limit: capacity, Remaining: capacity}
	arr, ok := res.([]any)
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %T", key, res)
	}
	if v, ok := arr[0].(int64); ok {
		d.Allowed = v == 1
	}
	if v, ok := arr[1].(int64); ok {
		d.Remaining = int(v)
	}
	if v, ok := arr[2].(int64); ok {
		d.RetryAfter = int(v)
	}
	return d, nil
}

// clientIP returns the remote host of r without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimited throttles next per client IP. Limiter failures let the
// request through.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := s.deps.Limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request",
				"error", err, "request_id", RequestID(r.Context()))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
			s.logger.Warn("login rate limited", "client", clientIP(r))
			s.writeDetail(w, http.StatusTooManyRequests, "Too many login attempts, please try again later")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		next.ServeHTTP(w, r)
	})
}
