package terminology

import (
	"hash/maphash"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultShardCount is the default number of cache shards. It is a power
	// of two so a mask can replace modulo.
	DefaultShardCount = 64

	// DefaultCacheTTL is the default time-to-live for cache entries.
	DefaultCacheTTL = 15 * time.Minute
)

// ShardedCache is a TTL cache split into independently locked shards. Keys
// are spread over shards with a per-cache maphash seed.
type ShardedCache struct {
	shards    []*cacheShard
	shardMask uint64
	seed      maphash.Seed
	ttl       time.Duration
	now       func() time.Time
	expired   atomic.Uint64
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// CacheConfig holds configuration options for the cache.
type CacheConfig struct {
	// ShardCount is rounded up to a power of two.
	ShardCount int

	// TTL is the time-to-live for cache entries.
	TTL time.Duration
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ShardCount: DefaultShardCount,
		TTL:        DefaultCacheTTL,
	}
}

// NewShardedCache creates a new sharded cache with the given configuration.
func NewShardedCache(config CacheConfig) *ShardedCache {
	shardCount := config.ShardCount
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	shardCount = nextPowerOf2(shardCount)

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	shards := make([]*cacheShard, shardCount)
	for i := range shards {
		shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}

	return &ShardedCache{
		shards:    shards,
		shardMask: uint64(shardCount - 1),
		seed:      maphash.MakeSeed(),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (c *ShardedCache) shard(key string) *cacheShard {
	return c.shards[maphash.String(c.seed, key)&c.shardMask]
}

// Get returns a live entry. A stored nil value is a hit.
func (c *ShardedCache) Get(key string) (any, bool) {
	shard := c.shard(key)
	shard.mu.RLock()
	e, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		shard.mu.Lock()
		if cur, ok := shard.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(shard.entries, key)
			c.expired.Add(1)
		}
		shard.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores a value for the cache TTL.
func (c *ShardedCache) Set(key string, value any) {
	shard := c.shard(key)
	shard.mu.Lock()
	shard.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	shard.mu.Unlock()
}

// Clear removes all entries.
func (c *ShardedCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]cacheEntry)
		shard.mu.Unlock()
	}
}

// Cleanup drops expired entries and returns how many were dropped.
func (c *ShardedCache) Cleanup() int {
	now := c.now()
	dropped := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, e := range shard.entries {
			if now.After(e.expiresAt) {
				delete(shard.entries, key)
				dropped++
			}
		}
		shard.mu.Unlock()
	}
	c.expired.Add(uint64(dropped))
	return dropped
}

// CacheStats is a point-in-time view of a ShardedCache.
type CacheStats struct {
	Entries int
	Shards  int
	// Expired counts entries dropped after their TTL.
	Expired uint64
}

// Stats returns current cache statistics.
func (c *ShardedCache) Stats() CacheStats {
	stats := CacheStats{Shards: len(c.shards), Expired: c.expired.Load()}
	for _, shard := range c.shards {
		shard.mu.RLock()
		stats.Entries += len(shard.entries)
		shard.mu.RUnlock()
	}
	return stats
}

// nextPowerOf2 returns the smallest power of two not below n.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
