package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a TTL cache stored in redis so several service replicas share one view
// of upstream data. Values are JSON encoded. Redis failures degrade to cache misses.
type Redis[V any] struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedis creates a redis-backed cache; keys are stored as "<namespace>:<key>".
func NewRedis[V any](client redis.UniversalClient, namespace string, ttl time.Duration, logger *zap.Logger) *Redis[V] {
	return &Redis[V]{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger.Named("cache").With(zap.String("namespace", namespace)),
	}
}

func (r *Redis[V]) key(k string) string {
	return r.namespace + ":" + k
}

// Get implements Cache.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Redis get failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		r.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

// Set implements Cache.
func (r *Redis[V]) Set(ctx context.Context, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.key(key), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("Redis set failed", zap.String("key", key), zap.Error(err))
	}
}
