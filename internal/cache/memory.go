package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process TTL cache bounded to maxSize entries. When full, the least
// recently used entry is evicted.
type Memory[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewMemory creates an in-memory cache. A maxSize <= 0 means unbounded.
func NewMemory[V any](ttl time.Duration, maxSize int) *Memory[V] {
	if maxSize < 0 {
		maxSize = 0
	}
	return &Memory[V]{lru: expirable.NewLRU[string, V](maxSize, nil, ttl)}
}

// Get implements Cache.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	return m.lru.Get(key)
}

// Set implements Cache.
func (m *Memory[V]) Set(_ context.Context, key string, value V) {
	m.lru.Add(key, value)
}

// Len returns the number of stored entries.
func (m *Memory[V]) Len() int {
	return m.lru.Len()
}
