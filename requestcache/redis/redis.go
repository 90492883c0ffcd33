// Package redis is a requestcache.Cache backed by Redis. Entry expiry is
// delegated to Redis key TTLs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pardot/oidcop/requestcache"
)

// DefaultKeyPrefix is prepended to every request URI to form the Redis key.
const DefaultKeyPrefix = "oidcop:request:"

var _ requestcache.Cache = (*Cache)(nil)

type Cache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New returns a Cache storing entries through client, with keys prefixed by
// keyPrefix. An empty prefix uses DefaultKeyPrefix.
func New(client redis.UniversalClient, keyPrefix string) *Cache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Cache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (c *Cache) key(requestURI string) string {
	return c.keyPrefix + requestURI
}

func (c *Cache) Write(ctx context.Context, req *requestcache.CachedRequest) error {
	var ttl time.Duration
	if req.Expiry != nil {
		ttl = time.Until(*req.Expiry)
		if ttl <= 0 {
			// already expired, make sure no stale copy is served
			return c.Evict(ctx, req.RequestURI)
		}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal cached request: %w", err)
	}

	return c.client.Set(ctx, c.key(req.RequestURI), data, ttl).Err()
}

func (c *Cache) Find(ctx context.Context, requestURI string) (*requestcache.CachedRequest, error) {
	data, err := c.client.Get(ctx, c.key(requestURI)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &errNotFound{fmt.Errorf("%s not found", requestURI)}
		}
		return nil, fmt.Errorf("failed to get cached request: %w", err)
	}

	var cr requestcache.CachedRequest
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached request: %w", err)
	}

	return &cr, nil
}

func (c *Cache) Evict(ctx context.Context, requestURI string) error {
	return c.client.Del(ctx, c.key(requestURI)).Err()
}

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}
