package tableau

import (
	"sync"
	"time"
)

// Token lifetime policy. Tableau PAT sessions live two hours; an entry is
// refreshed once it is within ten minutes of expiry so in-flight work never
// races the server-side expiration.
const (
	tokenLifetime    = 2 * time.Hour
	refreshThreshold = 10 * time.Minute
)

// AuthEntry is a cached authentication session for one site.
type AuthEntry struct {
	Token     string
	SiteID    string
	ExpiresAt time.Time
}

// fresh reports whether the entry is still comfortably inside its lifetime.
func (e AuthEntry) fresh(now time.Time) bool {
	return e.Token != "" && now.Before(e.ExpiresAt.Add(-refreshThreshold))
}

// tokenCache holds one AuthEntry per site. Shared by every job in the
// process; reads vastly outnumber writes, hence the RWMutex.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]AuthEntry
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]AuthEntry)}
}

func (c *tokenCache) get(site string) (AuthEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[site]
	return e, ok
}

func (c *tokenCache) put(site string, e AuthEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[site] = e
}
