package cache

import (
	"net/http"
	"time"
)

// DefaultTTL is used when a response carries no usable Expires header.
const DefaultTTL = 24 * time.Hour

// CacheEntry represents a cached Census API response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry builds an entry for a response body. The Expires header wins over
// ttl when it points into the future.
func NewEntry(status int, body []byte, headers http.Header, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Data:       body,
		StatusCode: status,
		Expires:    parseExpires(headers, now, ttl),
		CachedAt:   now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// parseExpires returns the expiry for a response received at now.
func parseExpires(headers http.Header, now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(ttl)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil || !expires.After(now) {
		return now.Add(ttl)
	}

	return expires
}
