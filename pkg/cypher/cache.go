package cypher

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the process-wide cache.
const DefaultCacheSize = 10000

// QueryCache maps declaration fingerprints to compiled templates with LRU
// eviction. It is safe for concurrent use; concurrent compiles of the same
// shape produce a single entry.
type QueryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[uint64, *CompiledQuery]
	hits    uint64
	misses  uint64
}

// NewQueryCache creates a cache holding at most size templates.
// A size of zero or less selects DefaultCacheSize.
func NewQueryCache(size int) *QueryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[uint64, *CompiledQuery](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &QueryCache{entries: entries}
}

var (
	defaultCacheOnce sync.Once
	defaultCache     *QueryCache
)

// DefaultCache returns the process-wide cache shared by every endpoint that
// is not given its own.
func DefaultCache() *QueryCache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewQueryCache(DefaultCacheSize)
	})
	return defaultCache
}

// Get looks up a compiled template.
func (c *QueryCache) Get(fingerprint uint64) (*CompiledQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(fingerprint)
}

func (c *QueryCache) getLocked(fingerprint uint64) (*CompiledQuery, bool) {
	q, ok := c.entries.Get(fingerprint)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return q, ok
}

// Put stores a compiled template.
func (c *QueryCache) Put(fingerprint uint64, q *CompiledQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(fingerprint, q)
}

// GetOrCompile returns the cached template for fingerprint, calling compile
// and storing its result on a miss. hit reports whether the template was
// already cached. Failed compiles are not stored.
func (c *QueryCache) GetOrCompile(fingerprint uint64, compile func() (*CompiledQuery, error)) (q *CompiledQuery, hit bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.getLocked(fingerprint); ok {
		return q, true, nil
	}
	q, err = compile()
	if err != nil {
		return nil, false, err
	}
	c.entries.Add(fingerprint, q)
	return q, false, nil
}

// Invalidate drops every entry. Counters are kept.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns hit and miss counts and the current number of entries.
func (c *QueryCache) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.entries.Len()
}
