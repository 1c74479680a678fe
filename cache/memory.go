package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	expiresAt time.Time
	processed bool
}

// MemoryCache is an in-memory cache implementation
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]entry
	maxSize     int
	cleanup     *time.Ticker
	stop        chan struct{}
	closeOnce   sync.Once
	closed      bool
	enableLRU   bool
	accessOrder []string // For LRU eviction
	now         func() time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxSize int, cleanupInterval time.Duration, enableLRU bool) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	cache := &MemoryCache{
		entries:     make(map[string]entry),
		maxSize:     maxSize,
		cleanup:     time.NewTicker(cleanupInterval),
		stop:        make(chan struct{}),
		enableLRU:   enableLRU,
		accessOrder: make([]string, 0, maxSize),
		now:         time.Now,
	}

	go cache.cleanupExpired()

	return cache
}

// live returns the unexpired entry for eventID, dropping an expired one.
// Callers hold c.mu.
func (c *MemoryCache) live(eventID string) (entry, bool) {
	e, exists := c.entries[eventID]
	if !exists {
		return entry{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, eventID)
		if c.enableLRU {
			c.removeFromAccessOrder(eventID)
		}
		return entry{}, false
	}
	return e, true
}

// put stores e under eventID, evicting when full. Callers hold c.mu.
func (c *MemoryCache) put(eventID string, e entry) {
	if _, exists := c.entries[eventID]; !exists && len(c.entries) >= c.maxSize {
		c.evict()
	}
	c.entries[eventID] = e
	if c.enableLRU {
		c.updateAccessOrder(eventID)
	}
}

// IsProcessed checks if an event has been processed
func (c *MemoryCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(eventID)
	if !ok || !e.processed {
		return false, nil
	}

	if c.enableLRU {
		c.updateAccessOrder(eventID)
	}

	return true, nil
}

// Claim reserves eventID for ttl unless it is already claimed or processed
func (c *MemoryCache) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	if _, ok := c.live(eventID); ok {
		return false, nil
	}

	c.put(eventID, entry{expiresAt: c.now().Add(ttl)})
	return true, nil
}

// Release drops a claim that has not been marked processed
func (c *MemoryCache) Release(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if e, ok := c.entries[eventID]; ok && !e.processed {
		delete(c.entries, eventID)
		if c.enableLRU {
			c.removeFromAccessOrder(eventID)
		}
	}
	return nil
}

// MarkProcessed records eventID as handled for ttl, replacing any claim
func (c *MemoryCache) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if e, ok := c.live(eventID); ok && e.processed {
		return nil
	}

	c.put(eventID, entry{expiresAt: c.now().Add(ttl), processed: true})
	return nil
}

// Ping fails once the cache is closed
func (c *MemoryCache) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of tracked events
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes the cache and releases resources
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		c.cleanup.Stop()
		close(c.stop)

		c.mu.Lock()
		c.closed = true
		c.entries = make(map[string]entry)
		c.accessOrder = nil
		c.mu.Unlock()
	})

	return nil
}

// evict drops one entry, preferring the least recently used one with LRU
// enabled and an expired one otherwise
func (c *MemoryCache) evict() {
	if c.enableLRU {
		if len(c.accessOrder) > 0 {
			oldest := c.accessOrder[0]
			delete(c.entries, oldest)
			c.accessOrder = c.accessOrder[1:]
		}
		return
	}

	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			return
		}
	}
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

// cleanupExpired periodically removes expired entries
func (c *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			c.mu.Lock()
			now := c.now()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
					if c.enableLRU {
						c.removeFromAccessOrder(key)
					}
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// updateAccessOrder updates the access order for LRU
func (c *MemoryCache) updateAccessOrder(eventID string) {
	c.removeFromAccessOrder(eventID)
	c.accessOrder = append(c.accessOrder, eventID)
}

// removeFromAccessOrder removes an entry from access order
func (c *MemoryCache) removeFromAccessOrder(eventID string) {
	for i, key := range c.accessOrder {
		if key == eventID {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			return
		}
	}
}
