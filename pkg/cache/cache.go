// Package cache is a small in-process TTL cache with stale-while-revalidate
// and collapsed concurrent loads.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	// NegativeTTL caches loader failures. Zero disables negative caching.
	NegativeTTL time.Duration
	MaxEntries  int
}

// Hooks are optional callbacks, usually bound to Prometheus counters.
type Hooks struct {
	OnHit   func()
	OnMiss  func()
	OnStale func()
	OnError func()
}

// Loader fetches the value for key. ok=false with a nil error is a miss that
// is not cached.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type entry[V any] struct {
	value     V
	err       error
	expiresAt time.Time
	staleAt   time.Time
	negative  bool
}

type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]*entry[V]
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
	now   func() time.Time
}

func New[V any](opts Options, hooks Hooks) *Cache[V] {
	return &Cache[V]{
		items: make(map[string]*entry[V]),
		opts:  opts,
		hooks: hooks,
		now:   time.Now,
	}
}

type loadResult[V any] struct {
	val V
	ok  bool
	err error
}

// Get returns the cached value for key, loading it on a miss. A stale entry is
// returned immediately while one background refresh runs.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	var zero V
	now := c.now()

	c.mu.RLock()
	e, found := c.items[key]
	c.mu.RUnlock()

	if found {
		switch {
		case now.Before(e.expiresAt):
			fire(c.hooks.OnHit)
			if e.negative {
				return zero, false, e.err
			}
			return e.value, true, nil
		case now.Before(e.staleAt):
			fire(c.hooks.OnStale)
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (any, error) {
					val, ok, err := loader(refreshCtx, key)
					c.store(key, val, ok, err)
					return nil, nil
				})
			}()
			return e.value, true, nil
		default:
			c.Delete(key)
		}
	}

	fire(c.hooks.OnMiss)
	result, _, _ := c.sf.Do(key, func() (any, error) {
		val, ok, err := loader(ctx, key)
		c.store(key, val, ok, err)
		return loadResult[V]{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult[V])
	if !res.ok {
		return zero, false, res.err
	}
	return res.val, true, nil
}

func (c *Cache[V]) store(key string, val V, ok bool, err error) {
	now := c.now()
	e := &entry[V]{}
	switch {
	case ok:
		e.value = val
		e.expiresAt = now.Add(c.opts.TTL)
		e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)
	case err != nil && c.opts.NegativeTTL > 0:
		fire(c.hooks.OnError)
		e.err = err
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
		e.staleAt = e.expiresAt
	default:
		if err != nil {
			fire(c.hooks.OnError)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
}

// evictIfNeeded drops the oldest inserted keys. Callers hold c.mu.
func (c *Cache[V]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

func (c *Cache[V]) Set(key string, val V) {
	c.store(key, val, true, nil)
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func fire(hook func()) {
	if hook != nil {
		hook()
	}
}
