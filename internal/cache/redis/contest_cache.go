package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scorepeers/settlement/internal/domain"
)

// defaultContestTTL bounds how stale a cached view can get if an
// invalidation is lost.
const defaultContestTTL = 2 * time.Minute

// ContestCache implements domain.ContestCache with JSON snapshots of
// committed contest views.
//
// Key schema:
//
//	contest:{id} - hash with field "data" containing JSON
type ContestCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewContestCache creates a ContestCache backed by the given Client. A
// non-positive ttl selects the default.
func NewContestCache(c *Client, ttl time.Duration) *ContestCache {
	if ttl <= 0 {
		ttl = defaultContestTTL
	}
	return &ContestCache{rdb: c.Underlying(), ttl: ttl}
}

func contestKey(id string) string { return "contest:" + id }

// Set stores a contest view with the configured TTL.
func (cc *ContestCache) Set(ctx context.Context, view domain.ContestView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal contest %s: %w", view.Contest.ID, err)
	}

	key := contestKey(view.Contest.ID)
	pipe := cc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, cc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set contest %s: %w", view.Contest.ID, err)
	}
	return nil
}

// Get returns a cached view or domain.ErrNotFound on a miss.
func (cc *ContestCache) Get(ctx context.Context, id string) (domain.ContestView, error) {
	data, err := cc.rdb.HGet(ctx, contestKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ContestView{}, domain.ErrNotFound
		}
		return domain.ContestView{}, fmt.Errorf("redis: get contest %s: %w", id, err)
	}

	var view domain.ContestView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.ContestView{}, fmt.Errorf("redis: unmarshal contest %s: %w", id, err)
	}
	return view, nil
}

// Invalidate drops the cached view of a contest.
func (cc *ContestCache) Invalidate(ctx context.Context, id string) error {
	if err := cc.rdb.Del(ctx, contestKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate contest %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ContestCache = (*ContestCache)(nil)
