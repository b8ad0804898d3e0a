// Package entitycache provides an identity-stable memoization layer between
// persisted records and their in-memory wrappers. For a given id the wrapper
// is constructed exactly once; later puts update the existing wrapper's
// source in place, so consumers holding a reference never see a different
// object for the same id.
package entitycache

import (
	"sync"
)

// Cache maps record ids to lazily constructed wrappers.
//
// The factory builds a wrapper from a record; the updater replaces the
// underlying source of an existing wrapper when the same id is put again.
type Cache[K comparable, R any, W any] struct {
	factory func(R) W
	updater func(W, R)

	mu       sync.Mutex
	wrappers map[K]W
}

func New[K comparable, R any, W any](factory func(R) W, updater func(W, R)) *Cache[K, R, W] {
	return &Cache[K, R, W]{
		factory:  factory,
		updater:  updater,
		wrappers: make(map[K]W),
	}
}

// Put returns the wrapper for the record's id, constructing it on first use.
// When a wrapper already exists, the record is folded into it via the
// updater and the identical wrapper instance is returned.
func (c *Cache[K, R, W]) Put(id K, record R) W {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wrapper, ok := c.wrappers[id]; ok {
		if c.updater != nil {
			c.updater(wrapper, record)
		}
		return wrapper
	}

	wrapper := c.factory(record)
	c.wrappers[id] = wrapper
	return wrapper
}

// Get returns the wrapper for id, or the zero value and false if the id was
// never put.
func (c *Cache[K, R, W]) Get(id K) (W, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wrapper, ok := c.wrappers[id]
	return wrapper, ok
}

// Remove evicts the wrapper for id. Removing an unknown id is a no-op.
func (c *Cache[K, R, W]) Remove(id K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.wrappers, id)
}

func (c *Cache[K, R, W]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.wrappers)
}
