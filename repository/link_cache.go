package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jaecopzm/trakpilot/models"
	"github.com/redis/go-redis/v9"
)

const linkCacheKeyPrefix = "trakpilot:link:"

// CachedTrackedLinkRepository serves ByCode from redis in front of the store.
// Links never change after creation so entries only expire; misses are not cached.
type CachedTrackedLinkRepository struct {
	TrackedLinkRepository
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedTrackedLinkRepository(inner TrackedLinkRepository, rdb *redis.Client, ttl time.Duration) TrackedLinkRepository {
	if rdb == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedTrackedLinkRepository{TrackedLinkRepository: inner, rdb: rdb, ttl: ttl}
}

func (r *CachedTrackedLinkRepository) ByCode(ctx context.Context, code string) (*models.TrackedLink, error) {
	key := linkCacheKeyPrefix + code
	// a redis outage falls through to the store
	if raw, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var link models.TrackedLink
		if json.Unmarshal(raw, &link) == nil {
			return &link, nil
		}
	}

	link, err := r.TrackedLinkRepository.ByCode(ctx, code)
	if err != nil || link == nil {
		return link, err
	}
	if payload, mErr := json.Marshal(link); mErr == nil {
		_ = r.rdb.Set(ctx, key, payload, r.ttl).Err()
	}
	return link, nil
}
