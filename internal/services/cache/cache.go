package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Service caches collaborator responses by query and kind
type Service interface {
	Get(ctx context.Context, query, kind string) (string, bool)
	Set(ctx context.Context, query, kind, value string) error
	Clear(ctx context.Context) error
}

// Cache implements Service on top of go-cache
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
	maxSize int
}

// NewCache creates a cache; a disabled cache never hits
func NewCache(cfg *config.CacheConfig, logger *logrus.Logger) *Cache {
	if !cfg.Enabled || cfg.TTL <= 0 {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
		maxSize: cfg.MaxSize,
	}
}

// Get retrieves a cached value
func (c *Cache) Get(ctx context.Context, query, kind string) (string, bool) {
	if !c.enabled {
		return "", false
	}

	key := c.generateKey(query, kind)
	if val, found := c.cache.Get(key); found {
		entry := val.(*models.CacheEntry)
		c.logger.WithFields(logrus.Fields{
			"query": query,
			"kind":  kind,
			"age":   time.Since(entry.CreatedAt),
		}).Debug("Cache hit")
		return entry.Value, true
	}

	return "", false
}

// Set stores a value. When the cache is full, expired entries are dropped
// first; if it is still full the value is not stored.
func (c *Cache) Set(ctx context.Context, query, kind, value string) error {
	if !c.enabled {
		return nil
	}

	if c.maxSize > 0 && c.cache.ItemCount() >= c.maxSize {
		c.cache.DeleteExpired()
		if c.cache.ItemCount() >= c.maxSize {
			c.logger.WithField("size", c.maxSize).Debug("Cache full, skipping entry")
			return nil
		}
	}

	key := c.generateKey(query, kind)
	entry := &models.CacheEntry{
		Query:     query,
		Kind:      kind,
		Value:     value,
		CreatedAt: time.Now(),
	}

	c.cache.SetDefault(key, entry)
	c.logger.WithFields(logrus.Fields{
		"query": query,
		"kind":  kind,
	}).Debug("Response cached")

	return nil
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	c.cache.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

func (c *Cache) generateKey(query, kind string) string {
	data := fmt.Sprintf("%s:%s", kind, strings.ToLower(strings.TrimSpace(query)))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
