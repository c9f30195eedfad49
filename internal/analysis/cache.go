package analysis

import (
	"container/list"
	"sync"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

type cacheEntry struct {
	key       string
	features  types.AudioFeatures
	expiresAt time.Time
}

// FeatureCache is a thread-safe LRU of analysed features keyed by file
// signature, with lazy TTL expiry driven by an injected clock.
type FeatureCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    clock.Clock

	order *list.List // front is most recently used
	items map[string]*list.Element

	hits   int64
	misses int64
}

// NewFeatureCache creates a cache holding up to capacity entries for ttl.
func NewFeatureCache(capacity int, ttl time.Duration, clk clock.Clock) *FeatureCache {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &FeatureCache{
		capacity: capacity,
		ttl:      ttl,
		clock:    clk,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns cached features if present and unexpired.
func (c *FeatureCache) Get(key string) (types.AudioFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return types.AudioFeatures{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.clock.Now().After(entry.expiresAt) {
		c.remove(el)
		c.misses++
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return types.AudioFeatures{}, false
	}

	c.order.MoveToFront(el)
	c.hits++
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.features, true
}

// Put adds or refreshes an entry, evicting the least recently used when full.
func (c *FeatureCache) Put(key string, f types.AudioFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.features = f
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, features: f, expiresAt: expiresAt})
	for len(c.items) > c.capacity {
		c.remove(c.order.Back())
	}
}

// Purge drops every expired entry and returns how many were removed.
func (c *FeatureCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*cacheEntry).expiresAt) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *FeatureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts.
func (c *FeatureCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *FeatureCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).key)
}
