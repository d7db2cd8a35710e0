// Package cache stores fetched script bodies so a static scan fetches each
// URL at most once, and repeated scans of the same site can skip the network.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ppiankov/devcheck/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey generates a cache key from a URL
func CacheKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "devcheck:v1:" + hex.EncodeToString(hash[:])
}

// New builds the cache described by cfg. A disabled cache still keeps
// bodies in memory for the lifetime of the process.
func New(cfg model.CacheConfig) Cache {
	memTTL := cfg.MemoryTTL
	if memTTL <= 0 {
		memTTL = 10 * time.Minute
	}
	if !cfg.Enabled || cfg.Dir == "" {
		return NewMemoryCache(memTTL, 2*memTTL)
	}
	return NewLayeredCache(memTTL, cfg.Dir, cfg.DiskTTL)
}
