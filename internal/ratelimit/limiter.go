package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ratelimit:"

	WindowMinute = "minute"
	WindowHour   = "hour"

	minuteDuration = time.Minute
	hourDuration   = time.Hour
)

// Decision is the outcome of an admission check. RetryAfter is meaningful
// only when Allowed is false: it is the time until the oldest entry in the
// violated window slides out.
type Decision struct {
	Allowed    bool
	Window     string
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a tenant against both sliding
// windows. A request is admitted only if it fits in the per-minute AND the
// per-hour window.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (Decision, error)
}

// Limits hold the window sizes.
type Limits struct {
	PerMinute int
	PerHour   int
}

// RedisLimiter implements the sliding window over Redis sorted sets, one
// set per (tenant, window), scored by request time in milliseconds.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limits Limits
}

func NewRedisLimiter(rdb redis.Cmdable, limits Limits) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limits: limits}
}

// allowScript prunes both windows, checks both caps, and records the
// request as a single atomic unit, so concurrent callers across instances
// can never read the same count and all pass. Returns {1} on admission, or
// {0, window, oldestScore} on rejection.
var allowScript = redis.NewScript(`
local minute_key = KEYS[1]
local hour_key = KEYS[2]
local now = tonumber(ARGV[1])
local minute_limit = tonumber(ARGV[2])
local hour_limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', minute_key, '-inf', now - 60000)
redis.call('ZREMRANGEBYSCORE', hour_key, '-inf', now - 3600000)

if redis.call('ZCARD', minute_key) >= minute_limit then
	local oldest = redis.call('ZRANGE', minute_key, 0, 0, 'WITHSCORES')
	return {0, 'minute', oldest[2]}
end
if redis.call('ZCARD', hour_key) >= hour_limit then
	local oldest = redis.call('ZRANGE', hour_key, 0, 0, 'WITHSCORES')
	return {0, 'hour', oldest[2]}
end

redis.call('ZADD', minute_key, now, member)
redis.call('PEXPIRE', minute_key, 90000)
redis.call('ZADD', hour_key, now, member)
redis.call('PEXPIRE', hour_key, 3660000)
return {1}
`)

// memberSeq disambiguates members minted within the same nanosecond, so a
// burst of concurrent admissions never collapses into one sorted-set entry.
var memberSeq atomic.Int64

func (rl *RedisLimiter) Allow(ctx context.Context, tenant string) (Decision, error) {
	now := time.Now()
	minuteKey := keyPrefix + tenant + ":minute"
	hourKey := keyPrefix + tenant + ":hour"
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatInt(memberSeq.Add(1), 10)

	res, err := allowScript.Run(ctx, rl.rdb,
		[]string{minuteKey, hourKey},
		now.UnixMilli(), rl.limits.PerMinute, rl.limits.PerHour, member,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter script: %w", err)
	}
	if len(res) == 0 {
		return Decision{}, fmt.Errorf("rate limiter script: empty reply")
	}

	if admitted, _ := res[0].(int64); admitted == 1 {
		return Decision{Allowed: true}, nil
	}

	d := Decision{RetryAfter: time.Second}
	if len(res) > 1 {
		d.Window, _ = res[1].(string)
	}
	window := hourDuration
	if d.Window == WindowMinute {
		window = minuteDuration
	}
	if len(res) > 2 {
		if raw, ok := res[2].(string); ok {
			if score, err := strconv.ParseFloat(raw, 64); err == nil {
				if retry := time.UnixMilli(int64(score)).Add(window).Sub(now); retry > time.Second {
					d.RetryAfter = retry
				}
			}
		}
	}
	return d, nil
}
