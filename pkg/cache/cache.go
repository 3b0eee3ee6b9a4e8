// Package cache provides a bounded, time-expiring response cache that is
// passed explicitly to the components that want it.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores GET responses keyed by method, URL and body. Entries expire
// after the configured TTL; when full the oldest entry is evicted.
// A nil *Cache is valid and never hits.
type Cache struct {
	lru *expirable.LRU[string, []byte]
}

// New creates a cache holding at most maxEntries for ttl each.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

// Key builds the cache key for a request.
func Key(method, url string, body []byte) string {
	return method + ":" + url + ":" + string(body)
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Set stores value under key.
func (c *Cache) Set(key string, value []byte) {
	if c == nil {
		return
	}
	c.lru.Add(key, value)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
