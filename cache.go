package bulkmap

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Cache memoizes TypeAccessor construction per (record type, target table).
// Each key is built at most once at a time: concurrent first callers wait for
// the single in-flight build and observe the same instance. A failed build is
// not cached; the next call for that key tries again. Entries are never
// evicted.
type Cache struct {
	provider SchemaProvider
	config   config

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

type cacheKey struct {
	typ    reflect.Type
	target TargetTable
}

// cacheEntry is a pending or completed build. done is closed once ta/err are set.
type cacheEntry struct {
	done chan struct{}
	ta   *TypeAccessor
	err  error
}

// NewCache returns a cache resolving schemas through provider. A nil provider
// reports every table as having no columns.
func NewCache(provider SchemaProvider, opts ...Option) *Cache {
	return &Cache{
		provider: provider,
		config:   newConfig(opts...),
		entries:  make(map[cacheKey]*cacheEntry),
	}
}

// Get returns the TypeAccessor for T and target from c.
func Get[T any](ctx context.Context, c *Cache, target TargetTable) (*TypeAccessor, error) {
	return c.GetOrCreate(ctx, reflect.TypeOf((*T)(nil)).Elem(), target)
}

// GetOrCreate returns the TypeAccessor for (t, target), building it on first
// request. Callers waiting on another caller's build stop waiting when ctx is
// done; the build itself carries on.
func (c *Cache) GetOrCreate(ctx context.Context, t reflect.Type, target TargetTable) (*TypeAccessor, error) {
	t = canonicalStructType(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %v", ErrNotStruct, t)
	}
	k := cacheKey{typ: t, target: target}

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.ta, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[k] = e
	c.mu.Unlock()

	// The build outlives this caller's cancellation: others may be waiting on it.
	c.build(context.WithoutCancel(ctx), k, e)
	return e.ta, e.err
}

// build fills e and publishes it. Failed (or panicking) builds are removed
// from the cache before waiters are released.
func (c *Cache) build(ctx context.Context, k cacheKey, e *cacheEntry) {
	completed := false
	defer func() {
		if !completed {
			e.err = fmt.Errorf("bulkmap: building accessor for %s -> %s panicked", k.typ, k.target)
		}
		if e.err != nil {
			c.mu.Lock()
			delete(c.entries, k)
			c.mu.Unlock()
		}
		close(e.done)
	}()
	e.ta, e.err = buildTypeAccessor(ctx, k.typ, k.target, c.provider, c.config)
	completed = true
}

// Len returns the number of built or in-flight accessors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
