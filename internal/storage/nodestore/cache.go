package nodestore

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a size bounded LRU of recently read or written nodes.
// A zero TTL keeps entries until they are evicted by size.
type Cache struct {
	lru     *expirable.LRU[Hash256, *Node]
	maxSize int
	ttl     time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewCache creates a new cache holding at most maxSize nodes.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	c := &Cache{maxSize: maxSize, ttl: ttl}
	c.lru = expirable.NewLRU[Hash256, *Node](maxSize, func(Hash256, *Node) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Get returns the cached node for hash. Callers must not modify it.
func (c *Cache) Get(hash Hash256) (*Node, bool) {
	node, ok := c.lru.Get(hash)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return node, ok
}

// Put stores a node in the cache.
func (c *Cache) Put(node *Node) {
	if node == nil {
		return
	}
	c.lru.Add(node.Hash, node)
}

// Remove drops a node from the cache.
func (c *Cache) Remove(hash Hash256) {
	c.lru.Remove(hash)
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.lru.Purge()
}

// Size returns the current number of items in the cache.
func (c *Cache) Size() int {
	return c.lru.Len()
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: c.lru.Len(),
		MaxSize:     c.maxSize,
		TTL:         c.ttl,
	}
}

// CacheStats holds statistics about cache performance.
type CacheStats struct {
	Hits        uint64        // Number of cache hits
	Misses      uint64        // Number of cache misses
	Evictions   uint64        // Number of evictions by size, expiry or removal
	CurrentSize int           // Current number of items
	MaxSize     int           // Maximum number of items
	TTL         time.Duration // Time to live for entries
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// String returns a string representation of the cache statistics.
func (s CacheStats) String() string {
	return fmt.Sprintf("cache %d/%d items, %d hits, %d misses (%.2f%% hit rate), %d evictions, ttl %v",
		s.CurrentSize, s.MaxSize, s.Hits, s.Misses, s.HitRate(), s.Evictions, s.TTL)
}
