package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const localShards = 32

// LocalLimiter is the in-process backend for single-node deployments. Same
// contract as the Redis backend; state is per-tenant timestamp rings behind
// sharded mutexes so unrelated tenants never contend.
type LocalLimiter struct {
	limits Limits
	shards [localShards]localShard
	now    func() time.Time
}

type localShard struct {
	mu      sync.Mutex
	tenants map[string]*tenantWindows
}

type tenantWindows struct {
	minute []time.Time
	hour   []time.Time
}

func NewLocalLimiter(limits Limits) *LocalLimiter {
	l := &LocalLimiter{limits: limits, now: time.Now}
	for i := range l.shards {
		l.shards[i].tenants = make(map[string]*tenantWindows)
	}
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, tenant string) (Decision, error) {
	shard := &l.shards[shardFor(tenant)]
	now := l.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	tw, ok := shard.tenants[tenant]
	if !ok {
		tw = &tenantWindows{}
		shard.tenants[tenant] = tw
	}

	tw.minute = prune(tw.minute, now.Add(-minuteDuration))
	tw.hour = prune(tw.hour, now.Add(-hourDuration))

	if len(tw.minute) >= l.limits.PerMinute {
		return Decision{Window: WindowMinute, RetryAfter: localRetryAfter(tw.minute[0], minuteDuration, now)}, nil
	}
	if len(tw.hour) >= l.limits.PerHour {
		return Decision{Window: WindowHour, RetryAfter: localRetryAfter(tw.hour[0], hourDuration, now)}, nil
	}

	tw.minute = append(tw.minute, now)
	tw.hour = append(tw.hour, now)
	return Decision{Allowed: true}, nil
}

func prune(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}

func localRetryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	retry := oldest.Add(window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return retry
}

func shardFor(tenant string) int {
	h := fnv.New32a()
	h.Write([]byte(tenant))
	return int(h.Sum32() % localShards)
}
