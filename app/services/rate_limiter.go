package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jaecopzm/trakpilot/utils"
	"github.com/redis/go-redis/v9"
)

// RateLimiter admits at most a fixed number of events per key and window
type RateLimiter interface {
	// Allow records one event for key. When rejected it returns the time until the window resets.
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

type windowState struct {
	start time.Time
	count int
}

// MemoryRateLimiter is a process local window per key, reset lazily on the first
// check after the window expires. It is not shared between instances.
type MemoryRateLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*windowState
}

func NewMemoryRateLimiter(window time.Duration, max int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		window:  window,
		max:     max,
		now:     utils.UTCNow,
		windows: make(map[string]*windowState),
	}
}

// WithClock replaces the time source
func (l *MemoryRateLimiter) WithClock(now func() time.Time) *MemoryRateLimiter {
	l.now = now
	return l
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &windowState{start: now}
		l.windows[key] = w
	}

	if w.count >= l.max {
		retry := w.start.Add(l.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return false, retry
	}
	w.count++
	return true, 0
}

// Prune drops windows that expired before now
func (l *MemoryRateLimiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

const rateLimitKeyPrefix = "trakpilot:rl:"

// rateWindowScript counts a hit and opens the window in one step. A counter left
// without an expiry gets one on its next hit. Returns {count, remaining ms}.
var rateWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisRateLimiter keeps the window counter in redis so several instances share it
type RedisRateLimiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
}

func NewRedisRateLimiter(rdb *redis.Client, window time.Duration, max int) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, window: window, max: max}
}

// Allow fails open when redis is unreachable
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	res, err := rateWindowScript.Run(ctx, l.rdb, []string{rateLimitKeyPrefix + key}, l.window.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected rate window reply %v", res)
	}
	if err != nil {
		utils.LogError("rate_limiter_redis", err, map[string]any{"key": key})
		return true, 0
	}
	if res[0] <= int64(l.max) {
		return true, 0
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl <= 0 {
		ttl = l.window
	}
	return false, ttl
}
