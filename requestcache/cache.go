// Package requestcache stores request objects fetched from a client's
// request_uri, so repeated authorization requests can skip the fetch.
package requestcache

import (
	"context"
	"errors"
	"time"
)

// CachedRequest is a request object previously fetched by reference.
type CachedRequest struct {
	// RequestURI is the request_uri with any fragment removed. It is the
	// cache key.
	RequestURI string `json:"requestURI"`
	// Request is the raw content served at the URI, a JWS or JWE.
	Request string `json:"request"`
	// Hash is the base64url encoded SHA-256 of Request.
	Hash string `json:"hash"`
	// Expiry is when the entry should no longer be used. Nil never expires.
	Expiry *time.Time `json:"expiry,omitempty"`
}

// HasExpired reports if the entry has an expiry that is strictly before now.
func (c *CachedRequest) HasExpired(now time.Time) bool {
	return c.Expiry != nil && c.Expiry.Before(now)
}

// Cache is the store for fetched request objects. Implementations must be
// safe for concurrent use. Concurrent writes to the same key may resolve in
// any order.
type Cache interface {
	// Write stores the entry, replacing any existing entry for its
	// RequestURI.
	Write(ctx context.Context, req *CachedRequest) error
	// Find returns the entry for the given URI. If there is none, an
	// IsNotFoundErr error is returned. Implementations may return entries
	// that have expired, callers must check HasExpired.
	Find(ctx context.Context, requestURI string) (*CachedRequest, error)
	// Evict removes the entry for the URI. Evicting an entry that does not
	// exist is not an error.
	Evict(ctx context.Context, requestURI string) error
}

type errNotFound interface {
	NotFoundErr()
}

// IsNotFoundErr checks to see if the passed error is because the item was not
// found, as opposed to an actual error state. Errors comply to this if they
// have an `NotFoundErr()` method.
func IsNotFoundErr(err error) bool {
	var nf errNotFound
	return errors.As(err, &nf)
}
