/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

// Package lru contains a minimal LRU map used to bound the number of tracked
// keys where the sweeping-based reclamation of the GCRA store does not apply.
package lru

import (
	"container/list"
	"fmt"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a fixed-capacity LRU map. The zero value is not usable; use New.
type Cache[K comparable, V any] struct {
	maxEntries int

	mu      sync.Mutex
	lruList *list.List
	items   map[K]*list.Element
}

// New creates a Cache holding at most maxEntries entries.
func New[K comparable, V any](maxEntries int) (*Cache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	return &Cache[K, V]{
		maxEntries: maxEntries,
		lruList:    list.New(),
		items:      make(map[K]*list.Element),
	}, nil
}

// GetOrAdd returns the value stored under key, creating it with valueProvider
// if absent. When the cache is full, the least recently used entry is evicted.
func (c *Cache[K, V]) GetOrAdd(key K, valueProvider func() V) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*entry[K, V]).value, true
	}

	value = valueProvider()
	c.items[key] = c.lruList.PushFront(&entry[K, V]{key: key, value: value})
	if len(c.items) > c.maxEntries {
		if oldest := c.lruList.Back(); oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
		}
	}
	return value, false
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
