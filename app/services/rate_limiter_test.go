package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryRateLimiter(time.Minute, 2).WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "owner:1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "owner:1")
	assert.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, retry := l.Allow(ctx, "owner:1")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)

	ok, _ = l.Allow(ctx, "owner:2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(40 * time.Second)
	ok, _ = l.Allow(ctx, "owner:1")
	assert.True(t, ok, "window resets lazily")
}

func TestMemoryRateLimiter_Prune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryRateLimiter(time.Minute, 1).WithClock(func() time.Time { return now })
	l.Allow(context.Background(), "a")
	now = now.Add(30 * time.Second)
	l.Allow(context.Background(), "b")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 0, l.Prune())
}
