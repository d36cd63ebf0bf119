package cache

import (
	"context"
	"time"
)

// Allow is a fixed-window limiter on top of a Store: the first limit calls
// per window for key pass.
func Allow(ctx context.Context, s Store, key string, limit int64, window time.Duration) (bool, error) {
	n, err := s.IncrWithExpire(ctx, "ratelimit:"+key, window)
	if err != nil {
		return false, err
	}
	return n <= limit, nil
}
