package commandqueue

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultDedupTTL  = 10 * time.Minute
	defaultDedupSize = 4096
)

// dedupCache remembers successful results by request id for a bounded time.
type dedupCache struct {
	entries *lru.LRU[string, interface{}]
}

func newDedupCache(size int, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	if size <= 0 {
		size = defaultDedupSize
	}
	return &dedupCache{entries: lru.NewLRU[string, interface{}](size, nil, ttl)}
}

// Get retrieves a cached result if it exists and is not expired
func (dc *dedupCache) Get(key string) (interface{}, bool) {
	return dc.entries.Get(key)
}

// Set stores a result in the cache
func (dc *dedupCache) Set(key string, value interface{}) {
	dc.entries.Add(key, value)
}

// Size returns the number of entries in the cache
func (dc *dedupCache) Size() int {
	return dc.entries.Len()
}

// Purge removes all entries
func (dc *dedupCache) Purge() {
	dc.entries.Purge()
}
