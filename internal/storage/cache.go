// internal/storage/cache.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ResponseCache is an in-memory TTL cache with least-recently-read eviction.
// The LLM service keys it by a hash of the rendered prompt.
type ResponseCache struct {
	entries    map[string]*cacheEntry
	mutex      sync.RWMutex
	maxSize    int
	expiration time.Duration
	now        func() time.Time
}

type cacheEntry struct {
	value     string
	createdAt time.Time
	lastRead  time.Time
}

// NewResponseCache creates a cache. Non-positive arguments select 1000 entries
// and a five minute TTL.
func NewResponseCache(maxSize int, expiration time.Duration) *ResponseCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &ResponseCache{
		entries:    make(map[string]*cacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
		now:        time.Now,
	}
}

// Get returns a live entry and refreshes its read time.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	now := c.now()
	if now.Sub(entry.createdAt) > c.expiration {
		delete(c.entries, key)
		return "", false
	}
	entry.lastRead = now
	return entry.value, true
}

// Set stores value, evicting the least recently read fifth when full.
func (c *ResponseCache) Set(key, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.entries[key] = &cacheEntry{value: value, createdAt: now, lastRead: now}
	if len(c.entries) > c.maxSize {
		c.evictLRU(max(1, c.maxSize/5))
	}
}

// Delete drops one entry.
func (c *ResponseCache) Delete(key string) {
	c.mutex.Lock()
	delete(c.entries, key)
	c.mutex.Unlock()
}

// Clear empties the cache.
func (c *ResponseCache) Clear() {
	c.mutex.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mutex.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// StartCleanup drops expired entries every interval until ctx ends.
func (c *ResponseCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupExpired()
			}
		}
	}()
}

func (c *ResponseCache) cleanupExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.expiration {
			delete(c.entries, key)
		}
	}
}

func (c *ResponseCache) evictLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}
	entries := make([]keyAge, 0, len(c.entries))
	for k, v := range c.entries {
		entries = append(entries, keyAge{k, v.lastRead})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})
	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.entries, entries[i].key)
	}
}
