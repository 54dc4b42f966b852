package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper is a cross-process first-writer-wins guard backed by redis
// SetNX with a TTL. A nil *Deduper is valid and always grants.
type Deduper struct {
	rdb *redis.Client
}

func NewDeduper(rdb *redis.Client) *Deduper {
	return &Deduper{rdb: rdb}
}

// AcquireOnce tries to acquire the key for the given window.
// Returns true if this caller is the FIRST to claim it, false if it is a
// duplicate. When redis is unavailable processing is not blocked: the
// caller gets true and local checks remain the authority.
func (d *Deduper) AcquireOnce(ctx context.Context, key string, window time.Duration) bool {
	if d == nil || d.rdb == nil {
		return true
	}
	ok, err := d.rdb.SetNX(ctx, "dedup:"+key, 1, window).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops the key so a later intent in the same window may claim it
// again, used when an acquired delivery ends without being delivered.
func (d *Deduper) Release(ctx context.Context, key string) {
	if d == nil || d.rdb == nil {
		return
	}
	d.rdb.Del(ctx, "dedup:"+key)
}
