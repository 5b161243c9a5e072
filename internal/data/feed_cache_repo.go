package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complyops/jobrunner/internal/core"
)

// RedisFeedCache stores regulatory feed validators (ETags, checksums) in
// Redis so the feed poller can skip unchanged downloads between runs.
type RedisFeedCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisFeedCache creates a new RedisFeedCache with the given Redis client.
func NewRedisFeedCache(client redis.UniversalClient) *RedisFeedCache {
	return &RedisFeedCache{
		client:    client,
		keyPrefix: "jobrunner:feed:",
	}
}

var _ core.FeedCache = (*RedisFeedCache)(nil)

// Get retrieves a cached validator by key. A miss returns nil, nil.
func (r *RedisFeedCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	result, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("feed cache get: %w", err)
	}
	return []byte(result), nil
}

// Set stores a validator with the given key and TTL.
func (r *RedisFeedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	return r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err()
}
