package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/policy-graphrag/backend/internal/models"
)

const (
	DefaultCapacity = 1000
	DefaultTTL      = time.Hour
)

// LRU is a bounded response cache. Entries expire lazily on lookup; at
// capacity the least recently accessed entry is evicted.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns a copy of the entry with its hit count incremented.
func (c *LRU) Get(_ context.Context, key string) (*models.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*models.CacheEntry)
	now := c.now()
	if now.Sub(entry.CreatedAt) > c.ttl {
		c.removeElement(el)
		c.misses++
		return nil, false
	}

	entry.HitCount++
	entry.LastAccessed = now
	c.order.MoveToFront(el)
	c.hits++

	out := *entry
	out.Response = entry.Response.Clone()
	return &out, true
}

func (c *LRU) Set(_ context.Context, entry *models.CacheEntry) {
	if entry == nil || entry.Key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *entry
	stored.Response = entry.Response.Clone()
	now := c.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.LastAccessed = now

	if el, ok := c.items[entry.Key]; ok {
		el.Value = &stored
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
	c.items[entry.Key] = c.order.PushFront(&stored)
}

func (c *LRU) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

func (c *LRU) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
	return nil
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU) Stats(_ context.Context) models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CacheStats{
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRU) removeElement(el *list.Element) {
	entry := c.order.Remove(el).(*models.CacheEntry)
	delete(c.items, entry.Key)
}
