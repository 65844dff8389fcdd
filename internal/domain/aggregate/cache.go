package aggregate

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheMeta describes a summary served from cache.
type CacheMeta struct {
	CachedAt time.Time `json:"cachedAt"`
	TTL      int       `json:"ttl"` // seconds
}

type cacheEntry struct {
	summary  *Summary
	cachedAt time.Time
}

// Cache holds built summaries keyed by range until they expire.
type Cache struct {
	mu  sync.Mutex // orders Put against concurrent builds
	lru *expirable.LRU[Range, cacheEntry]
	ttl time.Duration
}

// NewCache returns a cache with the given capacity and TTL. A non-positive
// TTL returns nil, which disables caching.
func NewCache(size int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		return nil
	}
	if size <= 0 {
		size = len(Ranges)
	}
	return &Cache{lru: expirable.NewLRU[Range, cacheEntry](size, nil, ttl), ttl: ttl}
}

// Get returns a copy of the cached summary with cache metadata attached.
func (c *Cache) Get(r Range) (*Summary, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.lru.Get(r)
	if !ok {
		return nil, false
	}
	s := *e.summary
	s.Cache = &CacheMeta{CachedAt: e.cachedAt, TTL: int(c.ttl / time.Second)}
	return &s, true
}

// Put stores s for r unless a summary generated after at is already cached.
func (c *Cache) Put(r Range, s *Summary, at time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lru.Peek(r); ok && cur.cachedAt.After(at) {
		return
	}
	c.lru.Add(r, cacheEntry{summary: s, cachedAt: at})
}

// Invalidate drops the given ranges, or every range when none are given.
func (c *Cache) Invalidate(ranges ...Range) {
	if c == nil {
		return
	}
	if len(ranges) == 0 {
		c.lru.Purge()
		return
	}
	for _, r := range ranges {
		c.lru.Remove(r)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
