// Package cache memoizes store lookups in a bounded least-recently-used
// cache. Concurrent lookups of the same key share one fetch.
package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the capacity used when none is given.
const DefaultSize = 100

var requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ssb_viewer_cache_requests_total",
	Help: "Cache lookups by cache and result.",
}, []string{"cache", "result"})

// A FetchFunc loads the value for key from the backing store.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Memo caches the results of a FetchFunc. Entries never expire; the least
// recently used entry is evicted once the cache is full. Errors are not
// cached.
type Memo[V any] struct {
	name  string
	fetch FetchFunc[V]
	group singleflight.Group

	mu  sync.Mutex
	lru *lru.Cache
}

// New returns a Memo holding at most size entries.
func New[V any](name string, size int, fetch FetchFunc[V]) *Memo[V] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Memo[V]{
		name:  name,
		fetch: fetch,
		lru:   lru.New(size),
	}
}

// Get returns the cached value for key, fetching it if needed. Callers
// arriving while a fetch for key is in flight wait for that fetch.
func (m *Memo[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if v, ok := m.lookup(key); ok {
		requests.WithLabelValues(m.name, "hit").Inc()
		return v, nil
	}
	requests.WithLabelValues(m.name, "miss").Inc()

	for {
		var led bool
		ch := m.group.DoChan(key, func() (any, error) {
			led = true
			if v, ok := m.lookup(key); ok {
				return v, nil
			}
			v, err := m.fetch(ctx, key)
			if err != nil {
				return nil, err
			}
			m.add(key, v)
			return v, nil
		})

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The request that led the fetch went away; ours has not.
				if !led && canceled(res.Err) && ctx.Err() == nil {
					continue
				}
				return zero, res.Err
			}
			return res.Val.(V), nil
		}
	}
}

// Len returns the number of cached entries.
func (m *Memo[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Memo[V]) lookup(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (m *Memo[V]) add(key string, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, v)
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
