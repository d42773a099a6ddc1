// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file  except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an  "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ttlcache is the bounded cache primitive shared by the attribute
// cache, the document caches, and the binary metadata cache. A TTL of zero
// disables staleness: entries never expire on Get, which is how the name
// cache and the document caches use it.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a generic string-keyed (or any comparable key) store with
// optional time-based staleness. It does not evict beyond TTL; callers that
// need a size bound should wrap it.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]

	ttl             time.Duration
	cleanupInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Cache. ttl == 0 disables expiration entirely. cleanupInterval
// == 0 disables the background sweep; entries are still treated as expired
// by Get once their ttl has elapsed, just not proactively removed.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		items:           make(map[K]entry[V]),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c
}

// Set inserts or replaces the value for key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = e
}

// Get returns the value for key and whether it was found and not stale.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}

	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		return zero, false
	}

	return e.value, true
}

// Delete removes key unconditionally.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Stop shuts down the background cleanup goroutine, if any. Safe to call
// more than once and safe to call when cleanupInterval was 0.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache[K, V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[K, V]) sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.items {
		if c.ttl > 0 && now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
}
