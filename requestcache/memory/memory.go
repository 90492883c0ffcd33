// Package memory is an in-memory implementation of requestcache.Cache
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pardot/oidcop/requestcache"
)

var _ requestcache.Cache = (*Cache)(nil)

// Cache is an in-memory implementation of requestcache.Cache. Entries are
// held until evicted, and lost when the process ends.
type Cache struct {
	mu sync.RWMutex
	m  map[string]requestcache.CachedRequest
}

func New() *Cache {
	return &Cache{
		m: make(map[string]requestcache.CachedRequest),
	}
}

func (c *Cache) Write(_ context.Context, req *requestcache.CachedRequest) error {
	r := *req
	if req.Expiry != nil {
		exp := *req.Expiry
		r.Expiry = &exp
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[r.RequestURI] = r
	return nil
}

func (c *Cache) Find(_ context.Context, requestURI string) (*requestcache.CachedRequest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.m[requestURI]
	if !ok {
		return nil, &errNotFound{fmt.Errorf("%s not found", requestURI)}
	}
	if r.Expiry != nil {
		exp := *r.Expiry
		r.Expiry = &exp
	}

	return &r, nil
}

func (c *Cache) Evict(_ context.Context, requestURI string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.m, requestURI)
	return nil
}

// Len returns the number of entries held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.m)
}

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}
