// Package cache provides short-lived key/value caches used to shield rate limited
// upstream APIs. Entries expire individually after a fixed time-to-live.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a TTL cache keyed by string.
type Cache[V any] interface {
	// Get returns the value and true if the key is present and not expired.
	Get(ctx context.Context, key string) (V, bool)
	// Set stores the value, replacing any previous entry and restarting its TTL.
	Set(ctx context.Context, key string, value V)
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Settings describes a single named cache.
type Settings struct {
	Backend   string
	Namespace string
	TTL       time.Duration
	MaxSize   int
}

// New builds a cache for the configured backend. The redis client is only
// required for the redis backend.
func New[V any](s Settings, rdb redis.UniversalClient, logger *zap.Logger) (Cache[V], error) {
	switch s.Backend {
	case "", BackendMemory:
		return NewMemory[V](s.TTL, s.MaxSize), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("cache %s: redis backend selected without a client", s.Namespace)
		}
		return NewRedis[V](rdb, s.Namespace, s.TTL, logger), nil
	default:
		return nil, fmt.Errorf("cache %s: unknown backend %q", s.Namespace, s.Backend)
	}
}
