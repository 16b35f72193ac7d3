// Package lru caches alias lookups in front of another AliasResolver.
package lru

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/cmdblock/internal/cmdblock/services/policy"
)

// generational is implemented by resolvers that can tell whether a refresh
// actually changed their map.
type generational interface {
	Generation() uint64
}

// Resolver is an LRU-backed caching decorator for a policy.AliasResolver.
// The cache is purged after a refresh that changed the inner map; refreshes
// of an unchanged registry keep it warm. A size <= 0 disables caching.
type Resolver struct {
	inner policy.AliasResolver
	cache *lru.Cache[string, []string]

	// mu is held shared across lookup+insert and exclusively for purges,
	// so a lookup that read the previous map can never outlive the purge.
	mu         sync.RWMutex
	generation uint64

	hits      uint64
	misses    uint64
	evictions uint64
}

// New wraps inner with a cache of the given size.
func New(inner policy.AliasResolver, size int) (*Resolver, error) {
	r := &Resolver{inner: inner}
	if size <= 0 {
		return r, nil
	}
	cache, err := lru.NewWithEvict(size, func(_ string, _ []string) {
		atomic.AddUint64(&r.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// RefreshMap refreshes the inner resolver and drops stale cache entries.
func (r *Resolver) RefreshMap(ctx context.Context) error {
	if err := r.inner.RefreshMap(ctx); err != nil {
		return err
	}
	if r.cache == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.inner.(generational); ok {
		gen := g.Generation()
		if gen == r.generation {
			return nil
		}
		r.generation = gen
	}
	r.cache.Purge()
	return nil
}

// Resolve returns cached aliases for command, consulting the inner resolver on a miss.
func (r *Resolver) Resolve(command string) []string {
	if r.cache == nil {
		return r.inner.Resolve(command)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if aliases, ok := r.cache.Get(command); ok {
		atomic.AddUint64(&r.hits, 1)
		return clone(aliases)
	}
	atomic.AddUint64(&r.misses, 1)
	aliases := r.inner.Resolve(command)
	r.cache.Add(command, clone(aliases))
	return aliases
}

// Len returns the number of cached commands.
func (r *Resolver) Len() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}

// Stats returns cumulative hit/miss/eviction counters.
func (r *Resolver) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&r.hits), atomic.LoadUint64(&r.misses), atomic.LoadUint64(&r.evictions)
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

var _ policy.AliasResolver = (*Resolver)(nil)
