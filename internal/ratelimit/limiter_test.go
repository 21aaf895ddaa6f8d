package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiter(t *testing.T, limits Limits) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, limits), mr
}

func TestRedisLimiter_AllowsUnderBothWindows(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 5, PerHour: 100})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := rl.Allow(ctx, "proj-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}
}

func TestRedisLimiter_MinuteWindowRejects(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 3, PerHour: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "proj-a")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := rl.Allow(ctx, "proj-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowMinute, d.Window)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestRedisLimiter_HourWindowRejects(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 100, PerHour: 4})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := rl.Allow(ctx, "proj-a")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := rl.Allow(ctx, "proj-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowHour, d.Window)
	assert.LessOrEqual(t, d.RetryAfter, time.Hour)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 2, PerHour: 100})
	ctx := context.Background()

	// Seed entries whose scores already fell out of the minute window.
	old := float64(time.Now().Add(-2 * time.Minute).UnixMilli())
	key := keyPrefix + "proj-a:minute"
	require.NoError(t, rl.rdb.ZAdd(ctx, key,
		redis.Z{Score: old, Member: "old-1"},
		redis.Z{Score: old + 1, Member: "old-2"},
	).Err())

	d, err := rl.Allow(ctx, "proj-a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// The stale entries were pruned, not counted.
	count, err := rl.rdb.ZCard(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisLimiter_TenantsIndependent(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 1, PerHour: 100})
	ctx := context.Background()

	d, err := rl.Allow(ctx, "proj-a")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = rl.Allow(ctx, "proj-a")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = rl.Allow(ctx, "proj-b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_DenialDoesNotConsume(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 2, PerHour: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := rl.Allow(ctx, "proj-a")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// Repeated denials must not extend the window by adding entries.
	for i := 0; i < 5; i++ {
		d, err := rl.Allow(ctx, "proj-a")
		require.NoError(t, err)
		require.False(t, d.Allowed)
	}

	count, err := rl.rdb.ZCard(ctx, keyPrefix+"proj-a:minute").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRedisLimiter_ExactlyNAdmittedUnderConcurrency(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 5, PerHour: 100})
	ctx := context.Background()

	const requests = 50
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := rl.Allow(ctx, "proj-a")
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), admitted.Load())

	// Each admission landed exactly once in the window.
	count, err := rl.rdb.ZCard(ctx, keyPrefix+"proj-a:minute").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestRedisLimiter_ConcurrentBurstSingleSlot(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 1, PerHour: 100})
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := rl.Allow(ctx, "proj-a")
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted.Load())
}

func TestMiddleware_RejectsWithRetryAfter(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 1, PerHour: 100})

	handler := Middleware(rl, func(r *http.Request) string { return "proj-a" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/memories", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/memories", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddleware_FailsOpenOnBackendError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewRedisLimiter(client, Limits{PerMinute: 1, PerHour: 1})
	mr.Close() // backend goes away

	handler := Middleware(rl, func(r *http.Request) string { return "proj-a" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/memories", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_NoTenantSkipsLimiting(t *testing.T) {
	rl, _ := setupRedisLimiter(t, Limits{PerMinute: 1, PerHour: 1})

	handler := Middleware(rl, func(r *http.Request) string { return "" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
