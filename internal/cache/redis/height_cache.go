package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

const heightKey = keyPrefix + "height:last_processed"

// HeightCache implements domain.HeightCache on a single Redis string key so
// a restarted executor resumes after the last height it fully swept.
type HeightCache struct {
	rdb *redis.Client
}

// NewHeightCache creates a HeightCache backed by the given Client.
func NewHeightCache(c *Client) *HeightCache {
	return &HeightCache{rdb: c.Underlying()}
}

// LastProcessed returns the last fully processed height. The boolean is
// false when no height has been recorded yet.
func (hc *HeightCache) LastProcessed(ctx context.Context) (uint64, bool, error) {
	val, err := hc.rdb.Get(ctx, heightKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis: get last processed height: %w", err)
	}
	height, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse last processed height %q: %w", val, err)
	}
	return height, true, nil
}

// SetLastProcessed records the last fully processed height.
func (hc *HeightCache) SetLastProcessed(ctx context.Context, height uint64) error {
	val := strconv.FormatUint(height, 10)
	if err := hc.rdb.Set(ctx, heightKey, val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set last processed height: %w", err)
	}
	return nil
}

var _ domain.HeightCache = (*HeightCache)(nil)
