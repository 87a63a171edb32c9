// Package cache provides the in-process tier of the policy cache.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"designgraph/domain/policy"
)

// DefaultMaxItems bounds the number of tenants held in process.
const DefaultMaxItems = 10000

// MemoryCache is an LRU-bounded map of policy documents with per-entry
// expiry. Expiry is reported to the caller, which decides freshness.
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]*cacheItem
	lruList  *list.List
	maxItems int

	// Statistics
	evictions int64

	logger *zap.Logger
}

type cacheItem struct {
	doc        policy.Document
	expiresAt  time.Time
	lruElement *list.Element
}

// NewMemoryCache creates a new in-memory policy tier
func NewMemoryCache(maxItems int, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &MemoryCache{
		items:    make(map[string]*cacheItem),
		lruList:  list.New(),
		maxItems: maxItems,
		logger:   logger,
	}
}

// Get retrieves a tenant's document and its expiry
func (c *MemoryCache) Get(ctx context.Context, tenantID string) (policy.Document, time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[tenantID]
	if !exists {
		return policy.Document{}, time.Time{}, false, nil
	}
	c.lruList.MoveToFront(item.lruElement)
	return item.doc.Clone(), item.expiresAt, true, nil
}

// Set stores a document until expiresAt
func (c *MemoryCache) Set(ctx context.Context, doc policy.Document, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[doc.TenantID]; exists {
		item.doc = doc.Clone()
		item.expiresAt = expiresAt
		c.lruList.MoveToFront(item.lruElement)
		return nil
	}

	for len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	item := &cacheItem{doc: doc.Clone(), expiresAt: expiresAt}
	item.lruElement = c.lruList.PushFront(doc.TenantID)
	c.items[doc.TenantID] = item
	return nil
}

// Delete removes a tenant's entry
func (c *MemoryCache) Delete(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[tenantID]; exists {
		c.lruList.Remove(item.lruElement)
		delete(c.items, tenantID)
	}
	return nil
}

// Clear removes all entries
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.lruList.Init()
	return nil
}

// Len returns the number of cached tenants
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Evictions returns how many entries were dropped for space
func (c *MemoryCache) Evictions() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictions
}

// evictOldest must be called with the lock held
func (c *MemoryCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	tenantID := oldest.Value.(string)
	c.lruList.Remove(oldest)
	delete(c.items, tenantID)
	c.evictions++
	c.logger.Debug("evicted policy cache entry", zap.String("tenant_id", tenantID))
}
