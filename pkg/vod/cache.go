// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package vod

import "sync"

// cacheSize bounds the number of memoized query results.
const cacheSize = 10

// Cache memoizes query results so concurrent range reads over the same
// window share the index tables.
type Cache struct {
	mu      sync.Mutex
	entries map[Query]*cacheEntry
	age     uint64
}

type cacheEntry struct {
	result *queryResult
	age    uint64
}

// NewCache allocates a Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Query]*cacheEntry)}
}

func (c *Cache) get(q Query) (*queryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, exists := c.entries[q]
	if !exists {
		return nil, false
	}
	c.age++
	entry.age = c.age
	return entry.result, true
}

func (c *Cache) add(q Query, result *queryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= cacheSize {
		// Evict the least recently used entry.
		var oldestQuery Query
		oldestAge := ^uint64(0)
		for query, entry := range c.entries {
			if entry.age < oldestAge {
				oldestAge = entry.age
				oldestQuery = query
			}
		}
		delete(c.entries, oldestQuery)
	}
	c.age++
	c.entries[q] = &cacheEntry{result: result, age: c.age}
}
