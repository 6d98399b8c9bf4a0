package llm

import (
	"sync"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/service"
)

// cacheEntry is one cached classification.
type cacheEntry struct {
	expiry time.Time
	result service.Classification
}

// classificationCache provides thread-safe TTL caching of classification
// results so repeated imports of similar rows don't re-hit the provider.
type classificationCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
}

func newClassificationCache(ttl time.Duration) *classificationCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	cache := &classificationCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go cache.cleanup()
	return cache
}

func (c *classificationCache) get(key string) (service.Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return service.Classification{}, false
	}
	return entry.result, true
}

func (c *classificationCache) set(key string, result service.Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		result: result,
		expiry: time.Now().Add(c.ttl),
	}
}

func (c *classificationCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *classificationCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *classificationCache) Close() {
	close(c.stopCh)
}
