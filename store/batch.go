package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned to waiters whose batch was still pending when the
// batcher shut down.
var ErrClosed = errors.New("store: batcher closed")

// BatchLoadFunc fetches values for many keys at once. Keys absent from
// the returned map are treated as not-found, not as errors.
type BatchLoadFunc[T any] func(ctx context.Context, keys []string) (map[string]T, error)

// Batcher coalesces individual Fetch calls into batch loads. The first
// fetch of a window starts a fixed timer; everything enqueued before it
// fires joins the same batch. Results, including not-found markers, land
// in the cache so a miss is not re-requested until its TTL lapses.
type Batcher[T any] struct {
	cache  *Cache[T]
	load   BatchLoadFunc[T]
	single LoadFunc[T] // optional per-key fallback when the batch call fails
	delay  time.Duration

	mu      sync.Mutex
	pending map[string][]*batchWaiter[T]
	timer   *time.Timer
	closed  bool
}

type batchWaiter[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// BatcherOption customizes a Batcher.
type BatcherOption[T any] func(*Batcher[T])

// WithSingleFallback retries keys one by one when the batch call itself
// fails, instead of failing every waiter.
func WithSingleFallback[T any](load LoadFunc[T]) BatcherOption[T] {
	return func(b *Batcher[T]) { b.single = load }
}

// NewBatcher creates a batcher over cache with the given collection
// window.
func NewBatcher[T any](cache *Cache[T], delay time.Duration, load BatchLoadFunc[T], opts ...BatcherOption[T]) *Batcher[T] {
	b := &Batcher[T]{
		cache:   cache,
		load:    load,
		delay:   delay,
		pending: make(map[string][]*batchWaiter[T]),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fetch returns the value for key, joining the current batch window when
// the cache misses. A key the backend does not know yields the zero value
// and no error, and that absence is cached.
func (b *Batcher[T]) Fetch(ctx context.Context, key string) (T, error) {
	if v, ok := b.cache.Get(key); ok {
		return v, nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		var zero T
		return zero, ErrClosed
	}
	w := &batchWaiter[T]{done: make(chan struct{})}
	first := len(b.pending) == 0
	b.pending[key] = append(b.pending[key], w)
	if first {
		b.timer = time.AfterFunc(b.delay, b.flush)
	}
	b.mu.Unlock()

	select {
	case <-w.done:
		return w.val, w.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// flush runs one batch round for everything collected in the window.
func (b *Batcher[T]) flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string][]*batchWaiter[T])
	b.timer = nil
	b.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}

	ctx := context.Background()
	results, err := b.load(ctx, keys)
	if err != nil {
		b.resolveFailed(ctx, pending, err)
		return
	}

	for key, waiters := range pending {
		val, ok := results[key]
		if !ok {
			// Cache the miss too, so absent keys stop hitting the backend.
			var zero T
			val = zero
		}
		b.cache.Put(key, val)
		for _, w := range waiters {
			w.val = val
			close(w.done)
		}
	}
}

// resolveFailed handles a failed batch call: per-key fallback loads when
// configured, otherwise the batch error goes to every waiter.
func (b *Batcher[T]) resolveFailed(ctx context.Context, pending map[string][]*batchWaiter[T], batchErr error) {
	for key, waiters := range pending {
		var (
			val T
			err error
		)
		if b.single != nil {
			val, err = b.single(ctx, key)
		} else {
			err = batchErr
		}
		if err == nil {
			b.cache.Put(key, val)
		}
		for _, w := range waiters {
			w.val = val
			w.err = err
			close(w.done)
		}
	}
}

// Invalidate drops key from the cache so the next fetch batches anew.
func (b *Batcher[T]) Invalidate(key string) {
	b.cache.Delete(key)
}

// Clear drops all cached values.
func (b *Batcher[T]) Clear() {
	b.cache.Clear()
}

// Close stops the window timer and fails all pending waiters with
// ErrClosed. Further fetches only serve the cache until that too expires.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	pending := b.pending
	b.pending = make(map[string][]*batchWaiter[T])
	b.mu.Unlock()

	for _, waiters := range pending {
		for _, w := range waiters {
			w.err = ErrClosed
			close(w.done)
		}
	}
}
