// Package announcement reads the site-wide announcement from an in-process
// key/value cache. The cache is filled by an external job; an empty cache is the
// normal state.
package announcement

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/model"
)

// CacheKey is the single well-known key the announcement lives under.
const CacheKey = "RECENT_ANNOUNCEMENTS"

// Cache holds the current announcement.
type Cache struct {
	cache *gocache.Cache
	log   *zap.Logger
}

// NewCache returns a cache whose entries live for ttl; 0 means no expiry.
func NewCache(ttl, cleanupInterval time.Duration, log *zap.Logger) *Cache {
	exp := ttl
	if exp <= 0 {
		exp = gocache.NoExpiration
	}
	return &Cache{cache: gocache.New(exp, cleanupInterval), log: log}
}

// Get returns the announcement, or false when none is cached.
func (c *Cache) Get(ctx context.Context) (model.Announcement, bool) {
	v, found := c.cache.Get(CacheKey)
	if !found {
		return model.Announcement{}, false
	}
	msg, ok := v.(string)
	if !ok {
		c.log.Error("wrong type in announcement cache", zap.String("key", CacheKey))
		return model.Announcement{}, false
	}
	return model.Announcement{Message: msg}, true
}

// Set stores message. An empty message clears the announcement.
func (c *Cache) Set(ctx context.Context, message string) {
	if message == "" {
		c.cache.Delete(CacheKey)
		return
	}
	c.cache.Set(CacheKey, message, gocache.DefaultExpiration)
}
