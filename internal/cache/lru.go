// Package cache provides caching implementations for Kestrel.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTenantRequired is returned when a cache call omits the tenant.
var ErrTenantRequired = errors.New("tenantID is required")

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a value from cache. Returns nil, nil on a miss.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.live(makeKey(tenantID, key))
	if entry == nil {
		return nil, nil
	}
	c.order.MoveToFront(c.items[entry.key])
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(makeKey(tenantID, key), value, ttl)
	return nil
}

// SetIfAbsent stores value only when no live entry exists for key.
func (c *LRUCache) SetIfAbsent(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) (bool, error) {
	if tenantID == "" {
		return false, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fullKey := makeKey(tenantID, key)
	if c.live(fullKey) != nil {
		return false, nil
	}
	c.put(fullKey, value, ttl)
	return true, nil
}

// CompareAndDelete removes key if it still holds value.
func (c *LRUCache) CompareAndDelete(ctx context.Context, tenantID string, key string, value []byte) (bool, error) {
	if tenantID == "" {
		return false, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.live(makeKey(tenantID, key))
	if entry == nil || !bytes.Equal(entry.value, value) {
		return false, nil
	}
	c.removeElement(c.items[entry.key])
	return true, nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[makeKey(tenantID, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

// live returns the unexpired entry for fullKey, evicting it if stale.
// Caller must hold c.mu.
func (c *LRUCache) live(fullKey string) *cacheEntry {
	elem, ok := c.items[fullKey]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil
	}
	return entry
}

// put inserts or refreshes an entry. Caller must hold c.mu.
func (c *LRUCache) put(fullKey string, value []byte, ttl time.Duration) {
	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}
