package util

import (
	"container/list"
	"sync"
)

type (
	// LRUCache holds up to maxSize values, evicting the least recently
	// used entry when full
	LRUCache[K comparable, V any] struct {
		entries map[K]*list.Element
		order   *list.List
		maxSize int
		mu      sync.Mutex
	}

	// Loader produces a value for a missing key. Returning keep=false
	// hands the value back without caching it
	Loader[V any] func() (value V, keep bool, err error)

	cacheEntry[K comparable, V any] struct {
		key   K
		value V
	}
)

// NewLRUCache creates a cache holding at most maxSize entries. A size of
// zero or less disables caching
func NewLRUCache[K comparable, V any](maxSize int) *LRUCache[K, V] {
	return &LRUCache[K, V]{
		entries: map[K]*list.Element{},
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached value for key
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// GetOrLoad returns the cached value for key, calling load on a miss
func (c *LRUCache[K, V]) GetOrLoad(key K, load Loader[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, keep, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	if keep {
		c.Put(key, v)
	}
	return v, nil
}

// Put stores value under key, replacing any existing entry
func (c *LRUCache[K, V]) Put(key K, value V) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry[K, V]).value = value
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry[K, V]{
		key:   key,
		value: value,
	})
	for c.order.Len() > c.maxSize {
		c.evictLast()
	}
}

// Remove drops the entry for key
func (c *LRUCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len returns the number of cached entries
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache[K, V]) evictLast() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.order.Remove(back)
	delete(c.entries, back.Value.(*cacheEntry[K, V]).key)
}
