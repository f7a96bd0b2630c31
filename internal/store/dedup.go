// Package store provides deduplication storage for recommended tracks using
// a Bloom filter fronting an LRU-bounded set.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupStore remembers which track URIs the user has already been offered so
// repeated recommendation rounds surface fresh tracks. Safe for concurrent
// use.
type DedupStore struct {
	seen              map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	capacity          int
	falsePositiveRate float64
}

// NewDedupStore creates a store bounded to capacity track URIs with the given
// Bloom filter false positive rate.
func NewDedupStore(capacity int, falsePositiveRate float64) *DedupStore {
	if capacity <= 0 {
		panic("dedup store capacity must be positive")
	}
	lruCache, _ := lru.New[string, struct{}](capacity)
	bloomFilter := bloom.NewWithEstimates(uint(capacity), falsePositiveRate)

	return &DedupStore{
		seen:              make(map[string]struct{}),
		bloom:             bloomFilter,
		lru:               lruCache,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// Seen reports whether trackURI has been marked before.
func (ds *DedupStore) Seen(trackURI string) bool {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()

	if !ds.bloom.TestString(trackURI) {
		return false
	}
	_, exists := ds.seen[trackURI]
	return exists
}

// MarkSeen records trackURI, evicting the oldest entry when over capacity.
func (ds *DedupStore) MarkSeen(trackURI string) {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()
	ds.markLocked(trackURI)
}

// FilterNew returns the subset of trackURIs not seen before and marks them
// seen, preserving order.
func (ds *DedupStore) FilterNew(trackURIs []string) []string {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	fresh := make([]string, 0, len(trackURIs))
	for _, uri := range trackURIs {
		if uri == "" {
			continue
		}
		if ds.bloom.TestString(uri) {
			if _, exists := ds.seen[uri]; exists {
				continue
			}
		}
		fresh = append(fresh, uri)
		ds.markLocked(uri)
	}
	return fresh
}

func (ds *DedupStore) markLocked(trackURI string) {
	if _, exists := ds.seen[trackURI]; exists {
		return
	}

	ds.seen[trackURI] = struct{}{}
	ds.bloom.AddString(trackURI)
	ds.lru.Add(trackURI, struct{}{})

	if len(ds.seen) > ds.capacity {
		ds.evictOldest()
	}
}

// Size returns the number of track URIs currently stored.
func (ds *DedupStore) Size() int {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()
	return len(ds.seen)
}

// Clear removes all track URIs from the store.
func (ds *DedupStore) Clear() {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	ds.seen = make(map[string]struct{})
	ds.bloom = bloom.NewWithEstimates(uint(ds.capacity), ds.falsePositiveRate)
	ds.lru.Purge()
}

func (ds *DedupStore) evictOldest() {
	oldestKey, _, ok := ds.lru.GetOldest()
	if !ok {
		return
	}
	delete(ds.seen, oldestKey)
	ds.lru.Remove(oldestKey)
}
