package store

import (
	"context"
	"sync"
)

// LoadFunc fetches the value for a single key.
type LoadFunc[T any] func(ctx context.Context, key string) (T, error)

// Group deduplicates concurrent loads per key on top of a Cache: while a
// load for a key is in flight, further callers for the same key wait on
// that load instead of issuing their own. Only successful results enter
// the cache; an error is delivered to every waiter of that round and the
// next caller retries from scratch.
type Group[T any] struct {
	cache *Cache[T]
	load  LoadFunc[T]

	mu       sync.Mutex
	inFlight map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// NewGroup wraps cache with single-flight loading via load.
func NewGroup[T any](cache *Cache[T], load LoadFunc[T]) *Group[T] {
	return &Group[T]{
		cache:    cache,
		load:     load,
		inFlight: make(map[string]*call[T]),
	}
}

// Fetch returns the value for key, from cache when fresh, otherwise via a
// single shared load. ctx cancellation releases this caller; the load
// itself keeps running for the remaining waiters.
func (g *Group[T]) Fetch(ctx context.Context, key string) (T, error) {
	if v, ok := g.cache.Get(key); ok {
		return v, nil
	}

	g.mu.Lock()
	if c, ok := g.inFlight[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	c := &call[T]{done: make(chan struct{})}
	g.inFlight[key] = c
	g.mu.Unlock()

	c.val, c.err = g.load(context.WithoutCancel(ctx), key)
	if c.err == nil {
		g.cache.Put(key, c.val)
	}

	g.mu.Lock()
	delete(g.inFlight, key)
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// Invalidate drops key from the cache. An in-flight load is unaffected.
func (g *Group[T]) Invalidate(key string) {
	g.cache.Delete(key)
}
