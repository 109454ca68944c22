package upstream

import (
	"sync"
	"time"
)

type cacheEntry struct {
	profile  Profile
	storedAt time.Time
}

// ProfileCache holds resolved profiles for a bounded time. Entries own
// their timestamps; expiry is checked on read and expired entries are
// dropped then. Safe for concurrent use.
type ProfileCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewProfileCache creates a cache whose entries live for ttl.
//
// Precondition: ttl must not be negative. A zero ttl disables caching.
func NewProfileCache(ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached profile when present and fresh.
func (c *ProfileCache) Get(identityID string) (Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identityID]
	if !ok {
		return Profile{}, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, identityID)
		return Profile{}, false
	}
	return entry.profile, true
}

// Put stores a profile with the current timestamp.
func (c *ProfileCache) Put(identityID string, p Profile) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identityID] = cacheEntry{profile: p, storedAt: c.now()}
}

// Invalidate drops a single identity's entry.
func (c *ProfileCache) Invalidate(identityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identityID)
}

// Clear drops every entry.
func (c *ProfileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries, expired ones included.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
