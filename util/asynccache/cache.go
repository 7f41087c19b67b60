// Copyright 2022 MatrixOrigin.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package asynccache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads the value of key. old and ok describe the value cached
// before the fetch, so that incremental loaders can build on it.
type Fetcher[V any] func(ctx context.Context, key string, old V, ok bool) (V, error)

// Cache is a string keyed cache whose misses and refreshes are coalesced:
// at most one fetch per key is in flight, and concurrent callers wait for
// that fetch. Fetches of different keys never wait for each other.
//
// Fetches run on the cache's own context, so a caller giving up does not
// fail the other callers waiting on the same fetch.
type Cache[V any] struct {
	ctx   context.Context
	group singleflight.Group

	mu struct {
		sync.RWMutex
		values map[string]V
	}
}

// New returns a cache, ctx bounds the lifetime of every fetch
func New[V any](ctx context.Context) *Cache[V] {
	c := &Cache[V]{ctx: ctx}
	c.mu.values = make(map[string]V)
	return c
}

// Peek returns the cached value without fetching
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.mu.values[key]
	return v, ok
}

// Set replaces the cached value
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.values[key] = value
}

// Remove drops the cached value, the next Get fetches again
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mu.values, key)
}

// Get returns the cached value, or fetches it on a miss.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}
	return c.do(ctx, key, func(_ V, ok bool) bool { return !ok }, fetch)
}

// Refresh fetches the value even if it is cached. When a flight of key is
// already running the caller joins it instead of starting another one, and
// gets that flight's result. A joined RefreshIf flight that found the value
// fresh returns the cached value without fetching.
func (c *Cache[V]) Refresh(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	return c.do(ctx, key, func(V, bool) bool { return true }, fetch)
}

// RefreshIf fetches the value if it is missing or stale returns true for the
// cached value. stale is evaluated inside the coalesced flight, after any
// earlier flight of the same key has published its value.
func (c *Cache[V]) RefreshIf(ctx context.Context, key string, stale func(V) bool, fetch Fetcher[V]) (V, error) {
	return c.do(ctx, key, func(old V, ok bool) bool { return !ok || stale(old) }, fetch)
}

func (c *Cache[V]) do(ctx context.Context, key string, need func(V, bool) bool, fetch Fetcher[V]) (V, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		old, ok := c.Peek(key)
		if !need(old, ok) {
			return old, nil
		}

		v, err := fetch(c.ctx, key, old, ok)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(V), nil
	}
}
