package history

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/kiln/internal/log"
)

const snapshotCleanupInterval = 30 * time.Minute

// snapshotCache is a read-through cache of decoded snapshots keyed by
// chat id. Entries are copied on the way in and out so callers never
// share file maps with the cache. Misses are not cached.
type snapshotCache struct {
	ttl   time.Duration
	cache *gocache.Cache
	load  func(ctx context.Context, chatID string) (*Snapshot, error)
}

// newSnapshotCache returns a cache over load. A non-positive ttl
// disables caching and every Get goes to load.
func newSnapshotCache(ttl time.Duration, load func(context.Context, string) (*Snapshot, error)) *snapshotCache {
	c := &snapshotCache{ttl: ttl, load: load}
	if ttl > 0 {
		c.cache = gocache.New(ttl, snapshotCleanupInterval)
	}
	return c
}

func (c *snapshotCache) Get(ctx context.Context, chatID string) (*Snapshot, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(chatID); ok {
			if snap, ok := v.(*Snapshot); ok {
				log.Debug(log.CatCache, "snapshot cache hit", "chat", chatID)
				return snap.clone(), nil
			}
			log.Error(log.CatCache, "wrong type in snapshot cache", "chat", chatID)
		}
	}

	snap, err := c.load(ctx, chatID)
	if err != nil || snap == nil {
		return nil, err
	}
	c.Set(chatID, snap)
	return snap.clone(), nil
}

func (c *snapshotCache) Set(chatID string, snap *Snapshot) {
	if c.cache == nil {
		return
	}
	c.cache.Set(chatID, snap.clone(), c.ttl)
}

func (c *snapshotCache) Delete(chatID string) {
	if c.cache != nil {
		c.cache.Delete(chatID)
	}
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Files = s.Files.Clone()
	return &out
}
