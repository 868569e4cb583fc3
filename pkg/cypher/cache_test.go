package cypher

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCache_Basic(t *testing.T) {
	cache := NewQueryCache(10)
	q := &CompiledQuery{fingerprint: 1, parts: []string{"MATCH (n) RETURN n"}}

	_, found := cache.Get(1)
	assert.False(t, found, "expected cache miss")

	cache.Put(1, q)

	cached, found := cache.Get(1)
	require.True(t, found, "expected cache hit")
	assert.Same(t, q, cached)
}

func TestQueryCache_LRUEviction(t *testing.T) {
	cache := NewQueryCache(3)
	for fp := uint64(1); fp <= 3; fp++ {
		cache.Put(fp, &CompiledQuery{fingerprint: fp})
	}

	// touch 1 so 2 becomes the least recently used
	_, found := cache.Get(1)
	require.True(t, found)

	cache.Put(4, &CompiledQuery{fingerprint: 4})

	_, found = cache.Get(2)
	assert.False(t, found, "2 should have been evicted")
	for _, fp := range []uint64{1, 3, 4} {
		_, found = cache.Get(fp)
		assert.True(t, found, "%d should still be cached", fp)
	}
}

func TestQueryCache_DefaultSize(t *testing.T) {
	cache := NewQueryCache(0)
	for fp := uint64(0); fp < DefaultCacheSize+5; fp++ {
		cache.Put(fp, &CompiledQuery{fingerprint: fp})
	}
	_, _, size := cache.Stats()
	assert.Equal(t, DefaultCacheSize, size)

	assert.Same(t, DefaultCache(), DefaultCache())
}

func TestQueryCache_Invalidate(t *testing.T) {
	cache := NewQueryCache(10)
	cache.Put(1, &CompiledQuery{})
	cache.Put(2, &CompiledQuery{})

	cache.Invalidate()

	_, found := cache.Get(1)
	assert.False(t, found)
	_, _, size := cache.Stats()
	assert.Equal(t, 0, size)
}

func TestQueryCache_Stats(t *testing.T) {
	cache := NewQueryCache(10)

	hits, misses, size := cache.Stats()
	if hits != 0 || misses != 0 || size != 0 {
		t.Errorf("Initial stats wrong: hits=%d, misses=%d, size=%d", hits, misses, size)
	}

	cache.Get(1)
	hits, misses, _ = cache.Stats()
	if hits != 0 || misses != 1 {
		t.Errorf("After miss: hits=%d, misses=%d", hits, misses)
	}

	cache.Put(1, &CompiledQuery{})
	_, _, size = cache.Stats()
	if size != 1 {
		t.Errorf("Cache size should be 1, got %d", size)
	}

	cache.Get(1)
	hits, misses, _ = cache.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("After hit: hits=%d, misses=%d", hits, misses)
	}
}

func TestQueryCache_GetOrCompileFailureNotStored(t *testing.T) {
	cache := NewQueryCache(10)
	boom := errors.New("boom")

	_, _, err := cache.GetOrCompile(9, func() (*CompiledQuery, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, found := cache.Get(9)
	assert.False(t, found)
}

func TestQueryCache_ConcurrentCompileSameShape(t *testing.T) {
	cache := NewQueryCache(10)
	b, v := newMovieVars(t)

	stmts := make([]*Statement, 32)
	errs := make([]error, 32)
	var wg sync.WaitGroup
	for i := range stmts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each goroutine declares against the shared binder, which is read-only here
			stmts[i], errs[i] = NewDeclaration(b).
				Start(At(v.Actor, int64(i))).
				Return(v.Actor).
				Compile(cache)
		}(i)
	}
	wg.Wait()

	for i := range stmts {
		require.NoError(t, errs[i])
		assert.Same(t, stmts[0].Query, stmts[i].Query)
	}
	hits, misses, size := cache.Stats()
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, uint64(31), hits)
	assert.Equal(t, 1, size)
}
