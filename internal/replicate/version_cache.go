package replicate

import (
	"sync"
	"time"
)

// VersionCache holds the model's latest version id for a bounded time.
// A zero TTL disables caching so every fallback fetches fresh metadata.
type VersionCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	id        string
	fetchedAt time.Time
	now       func() time.Time
}

func NewVersionCache(ttl time.Duration) *VersionCache {
	return &VersionCache{ttl: ttl, now: time.Now}
}

func (c *VersionCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 || c.id == "" {
		return "", false
	}
	if c.now().Sub(c.fetchedAt) >= c.ttl {
		c.id = ""
		return "", false
	}
	return c.id, true
}

func (c *VersionCache) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	c.id = id
	c.fetchedAt = c.now()
}

func (c *VersionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = ""
}
