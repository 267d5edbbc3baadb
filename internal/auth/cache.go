package auth

import (
	"sync"
	"time"
)

const (
	// defaultTokenTTL is the lifetime requested for created tokens.
	defaultTokenTTL = time.Hour

	// expiryMargin is how close to expiry a cached token may get before
	// it stops being served and a fresh one is created.
	expiryMargin = 5 * time.Minute
)

type cachedToken struct {
	token     string
	createdAt time.Time
}

// TokenCache stores created tokens keyed by destination name. A token is
// never served once its age is within the safety margin of the token
// lifetime.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
	ttl     time.Duration
	margin  time.Duration

	now func() time.Time // test hook
}

// NewTokenCache returns a cache for tokens of the given lifetime. A zero
// ttl uses the one-hour default.
func NewTokenCache(ttl time.Duration) *TokenCache {
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{
		entries: make(map[string]cachedToken),
		ttl:     ttl,
		margin:  expiryMargin,
		now:     time.Now,
	}
}

// Get returns the cached token for key, or false when the cache has none
// fresh enough to serve.
func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.createdAt) >= c.ttl-c.margin {
		delete(c.entries, key)
		return "", false
	}
	return entry.token, true
}

// Put stores a freshly created token for key, replacing any previous one.
func (c *TokenCache) Put(key, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{token: token, createdAt: c.now()}
}

// Invalidate discards the cached token for key. Called when a broker
// rejects the credentials so the next attempt signs a fresh token.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// TTL returns the lifetime requested for created tokens.
func (c *TokenCache) TTL() time.Duration { return c.ttl }
