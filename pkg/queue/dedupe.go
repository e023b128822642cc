package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeStore tracks outstanding dedupe keys in Redis so duplicate
// submissions of logically identical work collapse across processes. A key
// is held from submission until the job completes or is abandoned, bounded
// by a TTL window in case a worker dies without releasing it.
type DedupeStore struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

// NewDedupeStore creates a dedupe store. window bounds how long a key can
// stay claimed without completion.
func NewDedupeStore(rdb *redis.Client, prefix string, window time.Duration) *DedupeStore {
	if prefix == "" {
		prefix = "rewards:jobs"
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &DedupeStore{rdb: rdb, prefix: prefix, window: window}
}

// Acquire claims the key. Returns false when the key is already held, i.e.
// the same work is outstanding or recently completed within the window.
func (d *DedupeStore) Acquire(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+":dedupe:"+key, 1, d.window).Result()
}

// Release frees the key so later re-submissions (e.g. an operator
// re-dispatch) are admitted again.
func (d *DedupeStore) Release(ctx context.Context, key string) {
	// Best effort: an unreleased key expires with the window.
	d.rdb.Del(ctx, d.prefix+":dedupe:"+key)
}
