// Package cache memoizes expensive, deterministic computations in memory.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Memo stores successful results of a computation by key in a size-bounded, expiring LRU.
// Concurrent calls for a key that is not cached share a single computation.
// Errors are returned to every waiting caller and never stored.
type Memo[V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
}

// NewMemo returns a Memo holding at most size results, each for at most ttl.
// ttl <= 0 keeps results until they are evicted by size.
func NewMemo[V any](size int, ttl time.Duration) (*Memo[V], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}

	return &Memo[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}, nil
}

// Do returns the cached result for key, or runs compute and caches its result.
// hit is true only when the result came from the cache. A caller that joins a computation
// already in flight waits for it and gets its outcome, unless ctx ends first.
// compute runs detached from the starting caller's cancellation, so a caller that gives up
// never fails the others waiting on the same key. Bound compute with its own deadline.
func (m *Memo[V]) Do(ctx context.Context, key string, compute func(context.Context) (V, error)) (v V, hit bool, err error) {
	if cached, ok := m.lru.Get(key); ok {
		return cached, true, nil
	}

	if err := ctx.Err(); err != nil {
		return v, false, fmt.Errorf("wait for shared computation: %w", err)
	}

	shared := context.WithoutCancel(ctx)

	ch := m.group.DoChan(key, func() (any, error) {
		res, err := compute(shared)
		if err != nil {
			return nil, err
		}

		m.lru.Add(key, res)

		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return v, false, r.Err
		}

		return r.Val.(V), false, nil
	case <-ctx.Done():
		return v, false, fmt.Errorf("wait for shared computation: %w", ctx.Err())
	}
}

// Peek returns the cached result for key without updating recency.
func (m *Memo[V]) Peek(key string) (V, bool) {
	return m.lru.Peek(key)
}

// Forget drops key from the cache.
func (m *Memo[V]) Forget(key string) {
	m.lru.Remove(key)
}

// Purge drops every cached result.
func (m *Memo[V]) Purge() {
	m.lru.Purge()
}

// Len returns the number of cached results, including expired ones not yet reaped.
func (m *Memo[V]) Len() int {
	return m.lru.Len()
}
