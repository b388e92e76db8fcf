package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache is a process-local TTL cache. Values are stored JSON-encoded so
// callers never share memory with a cached value.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache returns an empty cache. maxEntries <= 0 means unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		items:      make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}

	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.items[key] = entry
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.RLock()
	entry, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return ErrCacheMiss
	}
	if entry.expired(c.now()) {
		c.mu.Lock()
		if current, ok := c.items[key]; ok && current.expired(c.now()) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return ErrCacheMiss
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// DeletePattern removes keys matching a glob with the same '*', '?' and
// '[...]' syntax Redis uses.
func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %s: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if matched, _ := path.Match(pattern, key); matched {
			delete(c.items, key)
		}
	}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	expired := 0
	for _, entry := range c.items {
		if entry.expired(now) {
			expired++
		}
	}

	return map[string]interface{}{
		"entries":     len(c.items),
		"expired":     expired,
		"max_entries": c.maxEntries,
	}
}

func (c *MemoryCache) Health(context.Context) error {
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.items = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// evictLocked drops expired entries, or the entry closest to expiry when none
// have expired. mu must be held.
func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		victim   string
		earliest time.Time
		removed  bool
	)
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
			removed = true
			continue
		}
		if victim == "" || (!entry.expiresAt.IsZero() && (earliest.IsZero() || entry.expiresAt.Before(earliest))) {
			victim = key
			earliest = entry.expiresAt
		}
	}
	if !removed && victim != "" {
		delete(c.items, victim)
	}
}
