package spotify

import (
	"sync"
	"time"
)

// ttlCache is a small thread-safe TTL cache for catalog responses. When full
// it drops the entry closest to expiry.
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]ttlEntry
	maxSize int
	ttl     time.Duration
}

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

func newTTLCache(maxSize int, ttl time.Duration) *ttlCache {
	return &ttlCache{
		entries: make(map[string]ttlEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *ttlCache) get(key string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.value
}

func (c *ttlCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxSize {
		c.evictOne()
	}
	c.entries[key] = ttlEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// evictOne removes the entry closest to expiry. Caller holds the lock.
func (c *ttlCache) evictOne() {
	var victim string
	var soonest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.expiresAt.Before(soonest) {
			victim = key
			soonest = entry.expiresAt
			first = false
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

func (c *ttlCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ttlEntry)
}

func (c *ttlCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
