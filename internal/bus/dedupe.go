package bus

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDedupeTTL and DefaultDedupeSize bound the de-duplication window.
// Telegram redelivers updates after a failed getUpdates acknowledgement.
const (
	DefaultDedupeTTL  = 20 * time.Minute
	DefaultDedupeSize = 5000
)

// DedupeCache remembers recently seen keys. Entries expire after the TTL and
// the least recently used ones are evicted beyond maxSize.
type DedupeCache struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultDedupeSize
	}
	return &DedupeCache{cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// IsDuplicate returns true if key was already seen within the TTL window.
// If not a duplicate, records the key for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Get honours the TTL; Contains reports expired keys until they are purged.
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}

// Len returns the number of remembered keys.
func (d *DedupeCache) Len() int {
	return d.cache.Len()
}
